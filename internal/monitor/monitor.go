// Package monitor wraps the degradation engine with alert-level
// classification and per-stream alert deduplication.
//
// Alert state is the only mutable shared state in the measurement core.
// It is keyed by logical stream (case id); updates are serialized per key
// and independent across distinct keys.
package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"driftd/internal/capture"
	"driftd/internal/degrade"
)

// Severity grades the measured degradation for reporting.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AlertLevel is the urgency attached to an emitted alert event.
type AlertLevel string

const (
	LevelInfo     AlertLevel = "INFO"
	LevelWarning  AlertLevel = "WARNING"
	LevelCritical AlertLevel = "CRITICAL"
)

// Config holds the monitor's alert thresholds. These may differ from the
// engine's classification thresholds.
type Config struct {
	// AlertThreshold is the index above which alert events escalate past
	// INFO.
	AlertThreshold float64
	// InterferenceThreshold is the index at or above which an
	// intervention is flagged.
	InterferenceThreshold float64
	// CriticalThreshold is the index at or above which alerts are
	// CRITICAL.
	CriticalThreshold float64
	// MediumSeverityFloor is the index at or above which severity is at
	// least MEDIUM.
	MediumSeverityFloor float64
	// Cooldown is the minimum interval between repeated alert events at
	// an unchanged level on the same stream.
	Cooldown time.Duration
}

// DefaultConfig returns the standard alert thresholds.
func DefaultConfig() Config {
	return Config{
		AlertThreshold:        0.15,
		InterferenceThreshold: 0.40,
		CriticalThreshold:     0.40,
		MediumSeverityFloor:   0.15,
		Cooldown:              5 * time.Minute,
	}
}

// Result is the monitor's view of one evaluated entry.
type Result struct {
	StreamID             string                   `json:"stream_id"`
	SessionID            string                   `json:"session_id"`
	Timestamp            time.Time                `json:"timestamp"`
	Matrix               *degrade.IntegrityMatrix `json:"matrix"`
	InterventionDetected bool                     `json:"intervention_detected"`
	Severity             Severity                 `json:"severity"`
	AlertLevel           AlertLevel               `json:"alert_level"`
	AlertTriggered       bool                     `json:"alert_triggered"`
}

// Alert is an emitted alert event. Emission is deduplicated per stream:
// an event fires only when the level changes or the cooldown elapses.
type Alert struct {
	AlertID      string     `json:"alert_id"`
	StreamID     string     `json:"stream_id"`
	SessionID    string     `json:"session_id"`
	Timestamp    time.Time  `json:"timestamp"`
	Level        AlertLevel `json:"level"`
	Message      string     `json:"message"`
	Index        float64    `json:"degradation_index"`
	EvidenceHash string     `json:"evidence_hash"`
	RootHash     string     `json:"root_hash"`
}

// Stats are running counters over all monitored entries.
type Stats struct {
	Monitored     int `json:"monitored"`
	Interventions int `json:"interventions"`
	Alerts        int `json:"alerts"`
}

// streamState is the per-stream dedup record. Guarded by its own mutex so
// distinct streams never contend.
type streamState struct {
	mu        sync.Mutex
	lastLevel AlertLevel
	lastEmit  time.Time
	seen      bool
}

// Monitor evaluates entries against the engine and deduplicates alerts
// per stream. Safe for concurrent use.
type Monitor struct {
	engine *degrade.Engine
	config Config

	rootHash string
	cid      string

	mu      sync.Mutex
	streams map[string]*streamState
	stats   Stats

	now func() time.Time
}

// New creates a Monitor around an engine.
func New(engine *degrade.Engine, rootHash, cid string, config Config) *Monitor {
	return &Monitor{
		engine:   engine,
		config:   config,
		rootHash: rootHash,
		cid:      cid,
		streams:  make(map[string]*streamState),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Used by tests to drive cooldowns.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Monitor analyzes an entry's origin/control pair and classifies the
// outcome for the given stream. The returned Alert is nil when
// deduplication suppressed emission.
func (m *Monitor) Monitor(streamID string, entry *capture.Entry) (*Result, *Alert, error) {
	if entry == nil {
		return nil, nil, fmt.Errorf("monitor: nil entry")
	}
	if streamID == "" {
		streamID = entry.SessionID
	}

	matrix := entry.Matrix
	if matrix == nil {
		var err error
		matrix, err = m.engine.Analyze(entry.OriginText, entry.ControlText)
		if err != nil {
			return nil, nil, err
		}
	}

	index := matrix.DegradationIndex
	level := m.classifyLevel(index)

	result := &Result{
		StreamID:             streamID,
		SessionID:            entry.SessionID,
		Timestamp:            m.now().UTC(),
		Matrix:               matrix,
		InterventionDetected: index >= m.config.InterferenceThreshold,
		Severity:             m.classifySeverity(index),
		AlertLevel:           level,
		AlertTriggered:       index >= m.config.AlertThreshold,
	}

	var alert *Alert
	if m.shouldEmit(streamID, level, result.Timestamp) {
		alert = m.buildAlert(result)
	}

	m.mu.Lock()
	m.stats.Monitored++
	if result.InterventionDetected {
		m.stats.Interventions++
	}
	if alert != nil {
		m.stats.Alerts++
	}
	m.mu.Unlock()

	return result, alert, nil
}

// MonitorBatch evaluates a sequence of entries on one stream in order.
func (m *Monitor) MonitorBatch(streamID string, entries []*capture.Entry) ([]*Result, []*Alert, error) {
	results := make([]*Result, 0, len(entries))
	var alerts []*Alert
	for i, e := range entries {
		r, a, err := m.Monitor(streamID, e)
		if err != nil {
			return results, alerts, fmt.Errorf("entry %d: %w", i, err)
		}
		results = append(results, r)
		if a != nil {
			alerts = append(alerts, a)
		}
	}
	return results, alerts, nil
}

// Stats returns a snapshot of the running counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Monitor) classifySeverity(index float64) Severity {
	switch {
	case index >= m.config.CriticalThreshold:
		return SeverityCritical
	case index >= m.engine.Thresholds().High:
		return SeverityHigh
	case index >= m.config.MediumSeverityFloor:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func (m *Monitor) classifyLevel(index float64) AlertLevel {
	switch {
	case index >= m.config.CriticalThreshold:
		return LevelCritical
	case index >= m.config.AlertThreshold:
		return LevelWarning
	default:
		return LevelInfo
	}
}

// shouldEmit applies the per-stream dedup rule: emit on first sight, on a
// level change, or when the cooldown has elapsed at an unchanged level.
func (m *Monitor) shouldEmit(streamID string, level AlertLevel, at time.Time) bool {
	m.mu.Lock()
	st, ok := m.streams[streamID]
	if !ok {
		st = &streamState{}
		m.streams[streamID] = st
	}
	m.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	emit := !st.seen || st.lastLevel != level || at.Sub(st.lastEmit) >= m.config.Cooldown
	if emit {
		st.seen = true
		st.lastLevel = level
		st.lastEmit = at
	}
	return emit
}

func (m *Monitor) buildAlert(r *Result) *Alert {
	msg := fmt.Sprintf("degradation index %.4f on stream %s (%s)",
		r.Matrix.DegradationIndex, r.StreamID, r.Severity)

	evidence := fmt.Sprintf("%s||%.6f||%s||%s||%s",
		r.SessionID, r.Matrix.DegradationIndex, r.Matrix.IntegrityHash,
		m.rootHash, m.cid)
	sum := sha256.Sum256([]byte(evidence))

	return &Alert{
		AlertID:      hex.EncodeToString(sum[:8]),
		StreamID:     r.StreamID,
		SessionID:    r.SessionID,
		Timestamp:    r.Timestamp,
		Level:        r.AlertLevel,
		Message:      msg,
		Index:        r.Matrix.DegradationIndex,
		EvidenceHash: hex.EncodeToString(sum[:]),
		RootHash:     m.rootHash,
	}
}
