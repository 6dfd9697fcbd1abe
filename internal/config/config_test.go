package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	testRootHash = "606a347f6e2502a23179c18e4a637ca15138aa2f04194c6e6a578f8d1f8d7287"
	testCID      = "bafybeihqz3x7k5t2m4n6p8r9s1v3w5y7a9c1e3g5i7k9m1o3q5s7u9w1y3"
)

// =============================================================================
// Helper functions
// =============================================================================

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Identity.RootHash = testRootHash
	cfg.Identity.CID = testCID
	return cfg
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DRIFTD_CONFIG", "DRIFTD_ROOT_HASH", "DRIFTD_CID",
		"DRIFTD_SIGNER_IDENTITY", "DRIFTD_DATA_DIR", "DRIFTD_WATCH_DIR",
		"DRIFTD_LOG_LEVEL", "DRIFTD_COOLDOWN_SECONDS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// =============================================================================
// Tests for defaults and validation
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != Version {
		t.Errorf("Version = %d, want %d", cfg.Version, Version)
	}
	if cfg.Identity.RootHash != "" {
		t.Error("default config must not carry an identity root hash")
	}
	if cfg.Engine.HighThreshold != 0.25 || cfg.Engine.CriticalThreshold != 0.40 {
		t.Errorf("engine thresholds = (%v, %v), want (0.25, 0.40)",
			cfg.Engine.HighThreshold, cfg.Engine.CriticalThreshold)
	}
	if cfg.Monitor.CooldownSeconds != 300 {
		t.Errorf("CooldownSeconds = %d, want 300", cfg.Monitor.CooldownSeconds)
	}
	if cfg.Temporal.SummaryIntervalSeconds != 600 || cfg.Temporal.SummaryWindowSeconds != 3600 {
		t.Errorf("summary cadence = (%d, %d), want (600, 3600)",
			cfg.Temporal.SummaryIntervalSeconds, cfg.Temporal.SummaryWindowSeconds)
	}
	if !cfg.Watcher.Enabled {
		t.Error("watcher should be enabled by default")
	}
	if cfg.Storage.DatabasePath == "" || cfg.Storage.ChainPath == "" {
		t.Error("storage paths should have defaults")
	}
}

func TestMonitorCooldownDuration(t *testing.T) {
	m := MonitorConfig{CooldownSeconds: 90}
	if got := m.Cooldown(); got != 90*time.Second {
		t.Errorf("Cooldown() = %v, want 90s", got)
	}
}

func TestTemporalSummaryDurations(t *testing.T) {
	tc := TemporalConfig{SummaryIntervalSeconds: 600, SummaryWindowSeconds: 3600}
	if got := tc.SummaryInterval(); got != 10*time.Minute {
		t.Errorf("SummaryInterval() = %v, want 10m", got)
	}
	if got := tc.SummaryWindow(); got != time.Hour {
		t.Errorf("SummaryWindow() = %v, want 1h", got)
	}
}

func TestValidateAccepted(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing root hash", func(c *Config) { c.Identity.RootHash = "" }, "root_hash is required"},
		{"short root hash", func(c *Config) { c.Identity.RootHash = "abcd" }, "64 hex characters"},
		{"non-hex root hash", func(c *Config) { c.Identity.RootHash = strings.Repeat("z", 64) }, "not valid hex"},
		{"missing cid", func(c *Config) { c.Identity.CID = "" }, "cid is required"},
		{"zero significance epsilon", func(c *Config) { c.Engine.SignificanceEpsilon = 0 }, "significance_epsilon"},
		{"zero smoothing epsilon", func(c *Config) { c.Engine.SmoothingEpsilon = 0 }, "smoothing_epsilon"},
		{"inverted thresholds", func(c *Config) { c.Engine.HighThreshold = 0.5 }, "high < critical"},
		{"critical above one", func(c *Config) { c.Engine.HighThreshold = 0.9; c.Engine.CriticalThreshold = 1.5 }, "must not exceed 1"},
		{"alert threshold out of range", func(c *Config) { c.Monitor.AlertThreshold = 1.5 }, "alert_threshold"},
		{"negative cooldown", func(c *Config) { c.Monitor.CooldownSeconds = -1 }, "cooldown_seconds"},
		{"negative stable slope", func(c *Config) { c.Temporal.StableSlope = -0.1 }, "stable_slope"},
		{"negative summary interval", func(c *Config) { c.Temporal.SummaryIntervalSeconds = -1 }, "summary_interval_seconds"},
		{"negative summary window", func(c *Config) { c.Temporal.SummaryWindowSeconds = -1 }, "summary_window_seconds"},
		{"watcher without dir", func(c *Config) { c.Watcher.WatchDir = "" }, "watch_dir is required"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests for environment overrides
// =============================================================================

func TestApplyEnvOverrides(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv("DRIFTD_ROOT_HASH", testRootHash)
	t.Setenv("DRIFTD_CID", testCID)
	t.Setenv("DRIFTD_LOG_LEVEL", "debug")
	t.Setenv("DRIFTD_COOLDOWN_SECONDS", "60")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Identity.RootHash != testRootHash {
		t.Errorf("RootHash = %q, want env value", cfg.Identity.RootHash)
	}
	if cfg.Identity.CID != testCID {
		t.Errorf("CID = %q, want env value", cfg.Identity.CID)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Monitor.CooldownSeconds != 60 {
		t.Errorf("CooldownSeconds = %d, want 60", cfg.Monitor.CooldownSeconds)
	}
}

func TestApplyEnvOverridesDataDir(t *testing.T) {
	clearEnvOverrides(t)
	dir := t.TempDir()
	t.Setenv("DRIFTD_DATA_DIR", dir)

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Storage.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.Storage.DataDir, dir)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "driftd.db") {
		t.Errorf("DatabasePath = %q, should follow data dir", cfg.Storage.DatabasePath)
	}
	if cfg.Storage.KeyDir != filepath.Join(dir, "keys") {
		t.Errorf("KeyDir = %q, should follow data dir", cfg.Storage.KeyDir)
	}
}

func TestApplyEnvOverridesBadCooldownIgnored(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv("DRIFTD_COOLDOWN_SECONDS", "not-a-number")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Monitor.CooldownSeconds != 300 {
		t.Errorf("CooldownSeconds = %d, want default 300", cfg.Monitor.CooldownSeconds)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	clearEnvOverrides(t)

	if got := DefaultConfigPath(); filepath.Base(got) != "driftd.toml" {
		t.Errorf("DefaultConfigPath() = %q, want a driftd.toml path", got)
	}

	t.Setenv("DRIFTD_CONFIG", "/etc/driftd/custom.toml")
	if got := DefaultConfigPath(); got != "/etc/driftd/custom.toml" {
		t.Errorf("DefaultConfigPath() = %q, want env override", got)
	}
}

// =============================================================================
// Tests for file loading and persistence
// =============================================================================

func TestSaveLoadRoundTrip(t *testing.T) {
	clearEnvOverrides(t)
	path := filepath.Join(t.TempDir(), "driftd.toml")

	cfg := validConfig()
	cfg.Monitor.CooldownSeconds = 42
	cfg.Logging.Level = "debug"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Identity.RootHash != testRootHash {
		t.Errorf("RootHash = %q, want %q", loaded.Identity.RootHash, testRootHash)
	}
	if loaded.Monitor.CooldownSeconds != 42 {
		t.Errorf("CooldownSeconds = %d, want 42", loaded.Monitor.CooldownSeconds)
	}
	if loaded.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", loaded.Logging.Level)
	}
}

func TestLoadJSON(t *testing.T) {
	clearEnvOverrides(t)
	path := filepath.Join(t.TempDir(), "driftd.json")
	body := `{"identity": {"root_hash": "` + testRootHash + `", "cid": "` + testCID + `"}, "monitor": {"cooldown_seconds": 7}}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		t.Fatalf("loadConfigFromFile: %v", err)
	}
	if cfg.Identity.RootHash != testRootHash {
		t.Errorf("RootHash = %q", cfg.Identity.RootHash)
	}
	if cfg.Monitor.CooldownSeconds != 7 {
		t.Errorf("CooldownSeconds = %d, want 7", cfg.Monitor.CooldownSeconds)
	}
	// Untouched sections keep their defaults.
	if cfg.Engine.HighThreshold != 0.25 {
		t.Errorf("HighThreshold = %v, want default 0.25", cfg.Engine.HighThreshold)
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnvOverrides(t)
	path := filepath.Join(t.TempDir(), "driftd.yaml")
	body := "identity:\n  root_hash: " + testRootHash + "\n  cid: " + testCID + "\nlogging:\n  level: warn\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		t.Fatalf("loadConfigFromFile: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftd.ini")
	if err := os.WriteFile(path, []byte("x=1"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := loadConfigFromFile(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := loadConfigFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want wrapped os.ErrNotExist", err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearEnvOverrides(t)
	path := filepath.Join(t.TempDir(), "driftd.toml")

	cfg := DefaultConfig() // no identity set
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("Load should reject a config without an identity")
	}
}

func TestLoadOrCreate(t *testing.T) {
	clearEnvOverrides(t)
	path := filepath.Join(t.TempDir(), "driftd.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if !created {
		t.Error("created = false, want true for fresh path")
	}
	if cfg.Identity.RootHash != "" {
		t.Error("fresh config should not carry an identity")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}

	// A second call loads the written file. The identity still has to come
	// from somewhere, here the environment.
	t.Setenv("DRIFTD_ROOT_HASH", testRootHash)
	t.Setenv("DRIFTD_CID", testCID)

	cfg, created, err = LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate (existing): %v", err)
	}
	if created {
		t.Error("created = true, want false for existing path")
	}
	if cfg.Identity.RootHash != testRootHash {
		t.Errorf("RootHash = %q, want env value", cfg.Identity.RootHash)
	}
}

// =============================================================================
// Tests for cloning and hot reload
// =============================================================================

func TestCloneIndependent(t *testing.T) {
	cfg := validConfig()
	clone := cfg.Clone()

	clone.Identity.RootHash = strings.Repeat("0", 64)
	clone.Monitor.CooldownSeconds = 1

	if cfg.Identity.RootHash != testRootHash {
		t.Error("mutating the clone changed the original identity")
	}
	if cfg.Monitor.CooldownSeconds != 300 {
		t.Error("mutating the clone changed the original cooldown")
	}
}

func TestWatchReload(t *testing.T) {
	clearEnvOverrides(t)
	path := filepath.Join(t.TempDir(), "driftd.toml")

	cfg := validConfig()
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loader := NewLoader(path)
	defer loader.Close()
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	cfg.Logging.Level = "debug"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save (rewrite): %v", err)
	}

	select {
	case got := <-changed:
		if got.Logging.Level != "debug" {
			t.Errorf("reloaded Logging.Level = %q, want debug", got.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}
