// driftd is the degradation monitoring daemon.
//
// It watches a drop directory for interaction files, computes an
// integrity matrix for each one, records the result in the audit store,
// and extends the hash chain. Alerts are deduplicated per stream.
//
//	driftd -config ~/.config/driftd/driftd.toml
//	driftd -metrics-addr 127.0.0.1:9621
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"driftd/internal/capture"
	"driftd/internal/chain"
	"driftd/internal/config"
	"driftd/internal/degrade"
	"driftd/internal/logging"
	"driftd/internal/metrics"
	"driftd/internal/monitor"
	"driftd/internal/signer"
	"driftd/internal/store"
	"driftd/internal/temporal"
	"driftd/internal/watcher"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// interactionFile is the on-disk format dropped into the watch directory.
type interactionFile struct {
	StreamID    string            `json:"stream_id"`
	Prompt      string            `json:"prompt"`
	OriginText  string            `json:"origin_text"`
	ControlText string            `json:"control_text"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp,omitempty"`
}

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "path to config file")
	metricsAddr := flag.String("metrics-addr", "", "address for the metrics endpoint (disabled when empty)")
	versionFlag := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "driftd - degradation monitoring daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("driftd %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	if err := run(*configPath, *metricsAddr); err != nil {
		fmt.Fprintf(os.Stderr, "driftd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string) error {
	cfg, created, err := config.LoadOrCreate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if created {
		return fmt.Errorf("wrote default config to %s; set identity.root_hash and identity.cid, then restart", configPath)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare data directories: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer log.Close()
	logging.SetDefault(log)

	log.Info("starting driftd",
		"version", version,
		"config", configPath,
		"data_dir", cfg.Storage.DataDir)

	// One writer per chain file.
	lock, err := chain.AcquireWriterLock(cfg.Storage.ChainPath)
	if err != nil {
		return fmt.Errorf("acquire writer lock: %w", err)
	}
	defer lock.Release()

	db, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	auditChain, err := chain.GetOrCreate(cfg.Storage.ChainPath, cfg.Identity.RootHash, cfg.Identity.CID)
	if err != nil {
		return fmt.Errorf("open chain: %w", err)
	}
	if err := auditChain.Verify(); err != nil {
		var ierr *chain.IntegrityError
		if errors.As(err, &ierr) {
			return fmt.Errorf("chain failed verification at link %d: %s", ierr.Index, ierr.Reason)
		}
		return fmt.Errorf("chain failed verification: %w", err)
	}
	log.Info("chain verified", "length", auditChain.Len(), "merkle_root", auditChain.MerkleRoot())

	sig := signer.New(cfg.Identity.SignerIdentity, cfg.Identity.RootHash)
	keyPath := filepath.Join(cfg.Storage.KeyDir, "signing_key.pem")
	if err := sig.LoadKeypair(keyPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load signing key: %w", err)
		}
		if err := sig.GenerateKeypair(); err != nil {
			return fmt.Errorf("generate signing key: %w", err)
		}
		if err := sig.SaveKeypair(cfg.Storage.KeyDir); err != nil {
			return fmt.Errorf("save signing key: %w", err)
		}
		log.Info("generated signing keypair", "path", keyPath)
	}

	engine := newEngine(cfg)
	recorder := capture.NewRecorder(cfg.Identity.RootHash, cfg.Identity.CID)

	captureLog, err := capture.OpenLog(cfg.Storage.CaptureLogPath, recorder)
	if err != nil {
		return fmt.Errorf("open capture log: %w", err)
	}

	mon := monitor.New(engine, cfg.Identity.RootHash, cfg.Identity.CID, monitor.Config{
		AlertThreshold:        cfg.Monitor.AlertThreshold,
		InterferenceThreshold: cfg.Monitor.InterferenceThreshold,
		CriticalThreshold:     cfg.Monitor.CriticalThreshold,
		MediumSeverityFloor:   cfg.Monitor.MediumSeverityFloor,
		Cooldown:              cfg.Monitor.Cooldown(),
	})

	m := metrics.NewDriftdMetrics(nil)
	m.ChainLength.Set(int64(auditChain.Len()))

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Default().HTTPHandler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics endpoint listening", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics endpoint failed", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	// Hot-reload is limited to logging level; identity and storage paths
	// are pinned for the process lifetime.
	loader := config.NewLoader(configPath)
	if _, err := loader.Load(); err == nil {
		loader.OnChange(func(next *config.Config) {
			if next.Logging.Level != cfg.Logging.Level {
				log.Info("config changed, log level update requires restart",
					"current", cfg.Logging.Level, "requested", next.Logging.Level)
			} else {
				log.Info("config reloaded")
			}
		})
		if err := loader.Watch(); err != nil {
			log.Warn("config watch unavailable", "error", err)
		}
		defer loader.Close()
	}

	d := &daemon{
		cfg:        cfg,
		log:        log,
		store:      db,
		chain:      auditChain,
		recorder:   recorder,
		captureLog: captureLog,
		monitor:    mon,
		metrics:    m,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Watcher.Enabled {
		log.Info("watcher disabled, daemon idle until signal")
		<-ctx.Done()
		return d.shutdown()
	}

	w, err := watcher.New(cfg.Watcher.WatchDir, cfg.Watcher.DebounceSeconds)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Stop()

	log.Info("watching for interaction files", "dir", cfg.Watcher.WatchDir)

	uptimeTicker := time.NewTicker(30 * time.Second)
	defer uptimeTicker.Stop()

	// A zero interval disables the periodic trend summary; the nil channel
	// never fires.
	var summaryCh <-chan time.Time
	if cfg.Temporal.SummaryIntervalSeconds > 0 {
		summaryTicker := time.NewTicker(cfg.Temporal.SummaryInterval())
		defer summaryTicker.Stop()
		summaryCh = summaryTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()

		case ev, ok := <-w.Events():
			if !ok {
				return d.shutdown()
			}
			if err := d.process(ev); err != nil {
				m.RecordError()
				log.Error("processing failed", "path", ev.Path, "error", err)
			}
			m.SetTrackedFiles(int64(w.TrackedFiles()))

		case err, ok := <-w.Errors():
			if !ok {
				return d.shutdown()
			}
			m.RecordError()
			log.Error("watcher error", "error", err)

		case <-uptimeTicker.C:
			m.UpdateUptime()

		case <-summaryCh:
			d.logTrendSummary(time.Now())
		}
	}
}

// daemon ties the pipeline stages together for one process.
type daemon struct {
	cfg        *config.Config
	log        *logging.Logger
	store      *store.Store
	chain      *chain.Chain
	recorder   *capture.Recorder
	captureLog *capture.Log
	monitor    *monitor.Monitor
	metrics    *metrics.DriftdMetrics
}

// process runs one interaction file through the full pipeline: capture,
// analysis, alerting, persistence, chain append.
func (d *daemon) process(ev watcher.Event) error {
	data, err := os.ReadFile(ev.Path)
	if err != nil {
		return fmt.Errorf("read interaction: %w", err)
	}

	var in interactionFile
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("parse interaction: %w", err)
	}
	if in.StreamID == "" {
		in.StreamID = "default"
	}

	timer := d.metrics.StartAnalysisTimer()

	entry, err := d.recorder.Record(capture.Request{
		Prompt:      in.Prompt,
		OriginText:  in.OriginText,
		ControlText: in.ControlText,
		Metadata:    in.Metadata,
		Timestamp:   in.Timestamp,
	}, nil)
	if err != nil {
		timer.Stop()
		return fmt.Errorf("record entry: %w", err)
	}

	result, alert, err := d.monitor.Monitor(in.StreamID, entry)
	timer.Stop()
	if err != nil {
		return fmt.Errorf("monitor entry: %w", err)
	}

	if err := d.captureLog.Append(entry); err != nil {
		return fmt.Errorf("append capture log: %w", err)
	}

	if err := d.store.InsertEntry(&store.EntryRecord{
		SessionID:   entry.SessionID,
		StreamID:    in.StreamID,
		Timestamp:   entry.Timestamp,
		EntryHash:   entry.EntryHash,
		OriginHash:  result.Matrix.OriginHash,
		ControlHash: result.Matrix.ControlHash,
		Matrix:      result.Matrix,
	}); err != nil {
		return fmt.Errorf("store entry: %w", err)
	}
	if err := d.store.InsertResult(result); err != nil {
		return fmt.Errorf("store result: %w", err)
	}

	appendTimer := d.metrics.StartChainAppendTimer()
	link, err := d.chain.Append(entry.EntryHash, map[string]string{
		"session_id": entry.SessionID,
		"stream_id":  in.StreamID,
		"status":     string(result.Matrix.Status),
	})
	appendTimer.Stop()
	if err != nil {
		return fmt.Errorf("append chain: %w", err)
	}
	if err := d.store.InsertLink(link); err != nil {
		return fmt.Errorf("store link: %w", err)
	}
	if err := d.chain.Save(d.cfg.Storage.ChainPath); err != nil {
		return fmt.Errorf("save chain: %w", err)
	}
	d.metrics.ChainLength.Set(int64(d.chain.Len()))

	d.metrics.RecordEntry(result.Matrix.DegradationIndex, result.Matrix.Status == degrade.StatusCritical)

	streamLog := d.log.WithStream(in.StreamID)
	streamLog.Info("entry processed",
		"session_id", entry.SessionID,
		"index", result.Matrix.DegradationIndex,
		"status", result.Matrix.Status,
		"ordinal", link.Ordinal)

	if alert != nil {
		d.metrics.RecordAlert()
		if err := d.store.InsertAlert(alert); err != nil {
			return fmt.Errorf("store alert: %w", err)
		}
		streamLog.Warn("alert emitted",
			"alert_id", alert.AlertID,
			"level", alert.Level,
			"index", alert.Index,
			"message", alert.Message)
	}

	return nil
}

// logTrendSummary runs the trend analyzer over the recent window for every
// stream with activity and logs the resulting metrics.
func (d *daemon) logTrendSummary(now time.Time) {
	start := now.Add(-d.cfg.Temporal.SummaryWindow())

	streams, err := d.store.Streams(start)
	if err != nil {
		d.log.Error("trend summary failed", "error", err)
		return
	}

	for _, streamID := range streams {
		points, err := d.store.PointsForPeriod(streamID, start, now)
		if err != nil {
			d.log.WithStream(streamID).Error("trend summary failed", "error", err)
			continue
		}

		summary, err := temporal.AnalyzePeriod(points, temporal.Config{
			StableSlope:           d.cfg.Temporal.StableSlope,
			SteepSlope:            d.cfg.Temporal.SteepSlope,
			MeanRiskFloor:         d.cfg.Temporal.MeanRiskFloor,
			InterventionRateFloor: d.cfg.Temporal.InterventionRateFloor,
		})
		if err != nil {
			if errors.Is(err, temporal.ErrInsufficientData) {
				continue
			}
			d.log.WithStream(streamID).Error("trend summary failed", "error", err)
			continue
		}

		d.log.WithStream(streamID).Info("trend summary",
			"window", d.cfg.Temporal.SummaryWindow().String(),
			"samples", summary.Count,
			"mean_index", summary.MeanIndex,
			"slope", summary.Slope,
			"direction", summary.Direction,
			"risk", summary.Risk,
			"interventions", summary.Interventions)
	}
}

func (d *daemon) shutdown() error {
	stats := d.monitor.Stats()
	d.log.Info("shutting down",
		"monitored", stats.Monitored,
		"interventions", stats.Interventions,
		"alerts", stats.Alerts,
		"chain_length", d.chain.Len())
	return d.chain.Save(d.cfg.Storage.ChainPath)
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Logging.Level != "" {
		level, err := logging.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		logCfg.Level = level
	}
	if cfg.Logging.Format != "" {
		format, err := logging.ParseFormat(cfg.Logging.Format)
		if err != nil {
			return nil, err
		}
		logCfg.Format = format
	}
	if cfg.Logging.FilePath != "" {
		logCfg.Output = "both"
		logCfg.FilePath = cfg.Logging.FilePath
	}
	if cfg.Logging.MaxSizeMB > 0 {
		logCfg.MaxSize = int64(cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.MaxBackups > 0 {
		logCfg.MaxBackups = cfg.Logging.MaxBackups
	}
	return logging.New(logCfg)
}

func newEngine(cfg *config.Config) *degrade.Engine {
	opts := []degrade.Option{
		degrade.WithThresholds(degrade.Thresholds{
			High:     cfg.Engine.HighThreshold,
			Critical: cfg.Engine.CriticalThreshold,
		}),
	}
	if cfg.Engine.SignificanceEpsilon > 0 {
		opts = append(opts, degrade.WithSignificanceEpsilon(cfg.Engine.SignificanceEpsilon))
	}
	if cfg.Engine.SmoothingEpsilon > 0 {
		opts = append(opts, degrade.WithSmoothingEpsilon(cfg.Engine.SmoothingEpsilon))
	}
	return degrade.NewEngine(cfg.Identity.RootHash, cfg.Identity.CID, opts...)
}
