// Package config handles configuration loading and validation for driftd.
//
// The identity pair (root hash and CID) that every proof and chain link
// references is injected here at startup; it is deployment configuration,
// never computed and never hard-coded in the measurement core.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config is the root configuration structure.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	Identity IdentityConfig `toml:"identity" json:"identity" yaml:"identity"`
	Engine   EngineConfig   `toml:"engine" json:"engine" yaml:"engine"`
	Monitor  MonitorConfig  `toml:"monitor" json:"monitor" yaml:"monitor"`
	Temporal TemporalConfig `toml:"temporal" json:"temporal" yaml:"temporal"`
	Storage  StorageConfig  `toml:"storage" json:"storage" yaml:"storage"`
	Watcher  WatcherConfig  `toml:"watcher" json:"watcher" yaml:"watcher"`
	Logging  LoggingConfig  `toml:"logging" json:"logging" yaml:"logging"`

	mu sync.RWMutex
}

// IdentityConfig is the deployment's attestation identity. RootHash and
// CID are process-wide immutable constants for the lifetime of a
// deployment.
type IdentityConfig struct {
	RootHash       string `toml:"root_hash" json:"root_hash" yaml:"root_hash"`
	CID            string `toml:"cid" json:"cid" yaml:"cid"`
	SignerIdentity string `toml:"signer_identity" json:"signer_identity" yaml:"signer_identity"`
	Issuer         string `toml:"issuer" json:"issuer" yaml:"issuer"`
}

// EngineConfig holds the degradation engine parameters.
type EngineConfig struct {
	SignificanceEpsilon float64 `toml:"significance_epsilon" json:"significance_epsilon" yaml:"significance_epsilon"`
	SmoothingEpsilon    float64 `toml:"smoothing_epsilon" json:"smoothing_epsilon" yaml:"smoothing_epsilon"`
	HighThreshold       float64 `toml:"high_threshold" json:"high_threshold" yaml:"high_threshold"`
	CriticalThreshold   float64 `toml:"critical_threshold" json:"critical_threshold" yaml:"critical_threshold"`
}

// MonitorConfig holds the alerting thresholds, which may differ from the
// engine's classification thresholds.
type MonitorConfig struct {
	AlertThreshold        float64 `toml:"alert_threshold" json:"alert_threshold" yaml:"alert_threshold"`
	InterferenceThreshold float64 `toml:"interference_threshold" json:"interference_threshold" yaml:"interference_threshold"`
	CriticalThreshold     float64 `toml:"critical_threshold" json:"critical_threshold" yaml:"critical_threshold"`
	MediumSeverityFloor   float64 `toml:"medium_severity_floor" json:"medium_severity_floor" yaml:"medium_severity_floor"`
	CooldownSeconds       int     `toml:"cooldown_seconds" json:"cooldown_seconds" yaml:"cooldown_seconds"`
}

// Cooldown returns the alert cooldown as a duration.
func (m MonitorConfig) Cooldown() time.Duration {
	return time.Duration(m.CooldownSeconds) * time.Second
}

// TemporalConfig holds the trend analysis thresholds and the cadence of
// the daemon's periodic trend summary.
type TemporalConfig struct {
	StableSlope            float64 `toml:"stable_slope" json:"stable_slope" yaml:"stable_slope"`
	SteepSlope             float64 `toml:"steep_slope" json:"steep_slope" yaml:"steep_slope"`
	MeanRiskFloor          float64 `toml:"mean_risk_floor" json:"mean_risk_floor" yaml:"mean_risk_floor"`
	InterventionRateFloor  float64 `toml:"intervention_rate_floor" json:"intervention_rate_floor" yaml:"intervention_rate_floor"`
	SummaryIntervalSeconds int     `toml:"summary_interval_seconds" json:"summary_interval_seconds" yaml:"summary_interval_seconds"`
	SummaryWindowSeconds   int     `toml:"summary_window_seconds" json:"summary_window_seconds" yaml:"summary_window_seconds"`
}

// SummaryInterval returns how often the daemon logs a trend summary.
func (t TemporalConfig) SummaryInterval() time.Duration {
	return time.Duration(t.SummaryIntervalSeconds) * time.Second
}

// SummaryWindow returns the lookback window for each trend summary.
func (t TemporalConfig) SummaryWindow() time.Duration {
	return time.Duration(t.SummaryWindowSeconds) * time.Second
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	DataDir        string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`
	DatabasePath   string `toml:"database_path" json:"database_path" yaml:"database_path"`
	ChainPath      string `toml:"chain_path" json:"chain_path" yaml:"chain_path"`
	CaptureLogPath string `toml:"capture_log_path" json:"capture_log_path" yaml:"capture_log_path"`
	KeyDir         string `toml:"key_dir" json:"key_dir" yaml:"key_dir"`
}

// WatcherConfig controls the capture drop-directory watcher.
type WatcherConfig struct {
	Enabled         bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	WatchDir        string `toml:"watch_dir" json:"watch_dir" yaml:"watch_dir"`
	DebounceSeconds int    `toml:"debounce_seconds" json:"debounce_seconds" yaml:"debounce_seconds"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// DefaultConfig returns the default configuration. The identity pair has
// no default: it must be supplied by the deployment.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Version: Version,
		Identity: IdentityConfig{
			SignerIdentity: "driftd",
			Issuer:         "driftd",
		},
		Engine: EngineConfig{
			SignificanceEpsilon: 1e-9,
			SmoothingEpsilon:    1e-10,
			HighThreshold:       0.25,
			CriticalThreshold:   0.40,
		},
		Monitor: MonitorConfig{
			AlertThreshold:        0.15,
			InterferenceThreshold: 0.40,
			CriticalThreshold:     0.40,
			MediumSeverityFloor:   0.15,
			CooldownSeconds:       300,
		},
		Temporal: TemporalConfig{
			StableSlope:            0.05,
			SteepSlope:             0.15,
			MeanRiskFloor:          0.35,
			InterventionRateFloor:  0.5,
			SummaryIntervalSeconds: 600,
			SummaryWindowSeconds:   3600,
		},
		Storage: StorageConfig{
			DataDir:        dataDir,
			DatabasePath:   filepath.Join(dataDir, "driftd.db"),
			ChainPath:      filepath.Join(dataDir, "chain.json"),
			CaptureLogPath: filepath.Join(dataDir, "captures.jsonl"),
			KeyDir:         filepath.Join(dataDir, "keys"),
		},
		Watcher: WatcherConfig{
			Enabled:         true,
			WatchDir:        filepath.Join(dataDir, "incoming"),
			DebounceSeconds: 2,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// defaultDataDir returns the platform data directory for driftd.
func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "driftd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".driftd"
	}
	return filepath.Join(home, ".driftd")
}

// DefaultConfigPath returns the default config file location, honoring
// DRIFTD_CONFIG when set.
func DefaultConfigPath() string {
	if v := os.Getenv("DRIFTD_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(defaultDataDir(), "driftd.toml")
}

// ApplyEnvOverrides applies DRIFTD_* environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("DRIFTD_ROOT_HASH"); v != "" {
		c.Identity.RootHash = v
	}
	if v := os.Getenv("DRIFTD_CID"); v != "" {
		c.Identity.CID = v
	}
	if v := os.Getenv("DRIFTD_SIGNER_IDENTITY"); v != "" {
		c.Identity.SignerIdentity = v
	}
	if v := os.Getenv("DRIFTD_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
		c.Storage.DatabasePath = filepath.Join(v, "driftd.db")
		c.Storage.ChainPath = filepath.Join(v, "chain.json")
		c.Storage.CaptureLogPath = filepath.Join(v, "captures.jsonl")
		c.Storage.KeyDir = filepath.Join(v, "keys")
	}
	if v := os.Getenv("DRIFTD_WATCH_DIR"); v != "" {
		c.Watcher.WatchDir = v
	}
	if v := os.Getenv("DRIFTD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DRIFTD_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Monitor.CooldownSeconds = n
		}
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Identity.RootHash == "" {
		return fmt.Errorf("identity.root_hash is required")
	}
	if len(c.Identity.RootHash) != 64 {
		return fmt.Errorf("identity.root_hash must be 64 hex characters, got %d", len(c.Identity.RootHash))
	}
	if _, err := hex.DecodeString(c.Identity.RootHash); err != nil {
		return fmt.Errorf("identity.root_hash is not valid hex: %w", err)
	}
	if c.Identity.CID == "" {
		return fmt.Errorf("identity.cid is required")
	}

	if c.Engine.SignificanceEpsilon <= 0 {
		return fmt.Errorf("engine.significance_epsilon must be positive")
	}
	if c.Engine.SmoothingEpsilon <= 0 {
		return fmt.Errorf("engine.smoothing_epsilon must be positive")
	}
	if c.Engine.HighThreshold <= 0 || c.Engine.HighThreshold >= c.Engine.CriticalThreshold {
		return fmt.Errorf("engine thresholds must satisfy 0 < high < critical")
	}
	if c.Engine.CriticalThreshold > 1 {
		return fmt.Errorf("engine.critical_threshold must not exceed 1")
	}

	if c.Monitor.AlertThreshold < 0 || c.Monitor.AlertThreshold > 1 {
		return fmt.Errorf("monitor.alert_threshold must be in [0, 1]")
	}
	if c.Monitor.CooldownSeconds < 0 {
		return fmt.Errorf("monitor.cooldown_seconds must not be negative")
	}

	if c.Temporal.StableSlope < 0 {
		return fmt.Errorf("temporal.stable_slope must not be negative")
	}
	if c.Temporal.SummaryIntervalSeconds < 0 {
		return fmt.Errorf("temporal.summary_interval_seconds must not be negative")
	}
	if c.Temporal.SummaryWindowSeconds < 0 {
		return fmt.Errorf("temporal.summary_window_seconds must not be negative")
	}

	if c.Watcher.Enabled && c.Watcher.WatchDir == "" {
		return fmt.Errorf("watcher.watch_dir is required when watcher is enabled")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// EnsureDirectories creates the data directories with restrictive
// permissions.
func (c *Config) EnsureDirectories() error {
	c.mu.RLock()
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.KeyDir,
		filepath.Dir(c.Storage.DatabasePath),
		filepath.Dir(c.Storage.ChainPath),
	}
	if c.Watcher.Enabled {
		dirs = append(dirs, c.Watcher.WatchDir)
	}
	c.mu.RUnlock()

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:  c.Version,
		Identity: c.Identity,
		Engine:   c.Engine,
		Monitor:  c.Monitor,
		Temporal: c.Temporal,
		Storage:  c.Storage,
		Watcher:  c.Watcher,
		Logging:  c.Logging,
	}
}
