// Package metrics provides Prometheus-compatible metrics for driftd.
package metrics

import (
	"time"
)

// DriftdMetrics holds all driftd-specific metrics.
type DriftdMetrics struct {
	registry *Registry

	// Counters
	EntriesTotal       *Counter
	AlertsTotal        *Counter
	InterventionsTotal *Counter
	ProofsTotal        *Counter
	VerificationsTotal *Counter
	ErrorsTotal        *Counter

	// Gauges
	ChainLength       *Gauge
	TrackedFiles      *Gauge
	ActiveStreams     *Gauge
	DatabaseSizeBytes *Gauge
	UptimeSeconds     *Gauge
	LastEntryTs       *Gauge

	// Histograms
	AnalysisDuration      *Histogram
	ChainAppendDuration   *Histogram
	DatabaseQueryDuration *Histogram
	DegradationIndex      *Histogram
}

// startTime records when metrics were initialized.
var startTime = time.Now()

// NewDriftdMetrics creates and registers all driftd metrics.
func NewDriftdMetrics(registry *Registry) *DriftdMetrics {
	if registry == nil {
		registry = Default()
	}

	m := &DriftdMetrics{
		registry: registry,

		// Counters
		EntriesTotal: registry.RegisterCounter(
			"entries_total",
			"Total number of interaction entries analyzed",
			nil,
		),
		AlertsTotal: registry.RegisterCounter(
			"alerts_total",
			"Total number of alerts emitted",
			nil,
		),
		InterventionsTotal: registry.RegisterCounter(
			"interventions_total",
			"Total number of entries classified critical",
			nil,
		),
		ProofsTotal: registry.RegisterCounter(
			"proofs_total",
			"Total number of existence proofs generated",
			nil,
		),
		VerificationsTotal: registry.RegisterCounter(
			"verifications_total",
			"Total number of verifications performed",
			nil,
		),
		ErrorsTotal: registry.RegisterCounter(
			"errors_total",
			"Total number of errors",
			nil,
		),

		// Gauges
		ChainLength: registry.RegisterGauge(
			"chain_length",
			"Number of links in the audit chain",
			nil,
		),
		TrackedFiles: registry.RegisterGauge(
			"tracked_files",
			"Number of interaction files currently tracked",
			nil,
		),
		ActiveStreams: registry.RegisterGauge(
			"active_streams",
			"Number of streams with monitor state",
			nil,
		),
		DatabaseSizeBytes: registry.RegisterGauge(
			"database_size_bytes",
			"Size of the database in bytes",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the daemon has been running",
			nil,
		),
		LastEntryTs: registry.RegisterGauge(
			"last_entry_timestamp",
			"Unix timestamp of the last analyzed entry",
			nil,
		),

		// Histograms
		AnalysisDuration: registry.RegisterHistogram(
			"analysis_duration_seconds",
			"Duration of degradation analysis in seconds",
			nil,
			DurationBuckets,
		),
		ChainAppendDuration: registry.RegisterHistogram(
			"chain_append_duration_seconds",
			"Duration of chain append operations in seconds",
			nil,
			DurationBuckets,
		),
		DatabaseQueryDuration: registry.RegisterHistogram(
			"database_query_duration_seconds",
			"Duration of database queries in seconds",
			nil,
			DurationBuckets,
		),
		DegradationIndex: registry.RegisterHistogram(
			"degradation_index",
			"Distribution of computed degradation index values",
			nil,
			RatioBuckets,
		),
	}

	return m
}

// RecordEntry records an analyzed entry.
func (m *DriftdMetrics) RecordEntry(index float64, critical bool) {
	m.EntriesTotal.Inc()
	m.DegradationIndex.Observe(index)
	m.LastEntryTs.Set(time.Now().Unix())
	if critical {
		m.InterventionsTotal.Inc()
	}
}

// StartAnalysisTimer returns a timer for analysis operations.
func (m *DriftdMetrics) StartAnalysisTimer() *HistogramTimer {
	return m.AnalysisDuration.Timer()
}

// RecordAlert records an emitted alert.
func (m *DriftdMetrics) RecordAlert() {
	m.AlertsTotal.Inc()
}

// RecordChainAppend records a chain append.
func (m *DriftdMetrics) RecordChainAppend(duration time.Duration, length int) {
	m.ChainAppendDuration.ObserveDuration(duration)
	m.ChainLength.Set(int64(length))
}

// StartChainAppendTimer returns a timer for chain append operations.
func (m *DriftdMetrics) StartChainAppendTimer() *HistogramTimer {
	return m.ChainAppendDuration.Timer()
}

// RecordProof records a proof generation.
func (m *DriftdMetrics) RecordProof() {
	m.ProofsTotal.Inc()
}

// RecordVerification records a verification operation.
func (m *DriftdMetrics) RecordVerification(success bool) {
	m.VerificationsTotal.Inc()
	if !success {
		m.ErrorsTotal.Inc()
	}
}

// RecordDatabaseQuery records a database query.
func (m *DriftdMetrics) RecordDatabaseQuery(duration time.Duration) {
	m.DatabaseQueryDuration.ObserveDuration(duration)
}

// StartDatabaseQueryTimer returns a timer for database queries.
func (m *DriftdMetrics) StartDatabaseQueryTimer() *HistogramTimer {
	return m.DatabaseQueryDuration.Timer()
}

// RecordError records an error.
func (m *DriftdMetrics) RecordError() {
	m.ErrorsTotal.Inc()
}

// SetTrackedFiles sets the number of tracked interaction files.
func (m *DriftdMetrics) SetTrackedFiles(count int64) {
	m.TrackedFiles.Set(count)
}

// SetActiveStreams sets the number of streams with monitor state.
func (m *DriftdMetrics) SetActiveStreams(count int64) {
	m.ActiveStreams.Set(count)
}

// SetDatabaseSize sets the database size.
func (m *DriftdMetrics) SetDatabaseSize(bytes int64) {
	m.DatabaseSizeBytes.Set(bytes)
}

// UpdateUptime updates the uptime metric.
func (m *DriftdMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}
