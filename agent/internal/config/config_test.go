package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
agent:
  dsn: "https://pub@ingest.example.com/42"
  environment: production
  release: "api@2.3.1"
  log_level: debug
  workers: 8
  tick_interval: 2s
  retry_delays: [500ms, 1s]
  compress_threshold: 0
  buffers:
    error:
      capacity: 50
      weight: 6
    log:
      capacity: 5000
      batch_size: 250
      overflow: drop_oldest
`
	cfg := loadFromString(t, yaml)
	a := cfg.Agent

	if a.ResolvedDSN() != "https://pub@ingest.example.com/42" {
		t.Errorf("dsn: got %q", a.ResolvedDSN())
	}
	if a.Workers != 8 {
		t.Errorf("workers: got %d", a.Workers)
	}
	if a.TickInterval != 2*time.Second {
		t.Errorf("tick_interval: got %v", a.TickInterval)
	}
	if len(a.RetryDelays) != 2 || a.RetryDelays[0] != 500*time.Millisecond {
		t.Errorf("retry_delays: got %v", a.RetryDelays)
	}
	if a.CompressThreshold != 0 {
		t.Errorf("compress_threshold: got %d", a.CompressThreshold)
	}
	if a.Level() != slog.LevelDebug {
		t.Errorf("level: got %v", a.Level())
	}

	e := a.Buffers["error"]
	if e.Capacity != 50 || e.Weight != 6 || e.BatchSize != 1 || e.Overflow != DefaultOverflow {
		t.Errorf("error buffer: got %+v", e)
	}
	l := a.Buffers["log"]
	if l.Capacity != 5000 || l.BatchSize != 250 || l.Overflow != "drop_oldest" || l.Weight != 2 {
		t.Errorf("log buffer: got %+v", l)
	}
	if a.Buffers["transaction"].Capacity != 1000 {
		t.Errorf("transaction buffer default missing: got %+v", a.Buffers["transaction"])
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, `
agent:
  dsn: "http://k@localhost:8080/1"
`)
	a := cfg.Agent

	if a.Workers != DefaultWorkers {
		t.Errorf("default workers: got %d, want %d", a.Workers, DefaultWorkers)
	}
	if a.ClientReportInterval != DefaultClientReportInterval {
		t.Errorf("default client_report_interval: got %v", a.ClientReportInterval)
	}
	if len(a.RetryDelays) != len(DefaultRetryDelays) {
		t.Errorf("default retry_delays: got %v", a.RetryDelays)
	}
	if a.CompressThreshold != DefaultCompressThreshold {
		t.Errorf("default compress_threshold: got %d", a.CompressThreshold)
	}
	if a.MetricsAddr != DefaultMetricsAddr {
		t.Errorf("default metrics_addr: got %q", a.MetricsAddr)
	}
	if len(a.Buffers) != 4 {
		t.Fatalf("default buffers: got %d, want 4", len(a.Buffers))
	}
	if a.Buffers["error"].Weight != 5 || a.Buffers["log"].BatchSize != 100 {
		t.Errorf("default buffer values: got %+v", a.Buffers)
	}
	if a.Level() != slog.LevelInfo {
		t.Errorf("default level: got %v", a.Level())
	}
}

func TestLoad_EmptyRetryDelaysDisablesRetries(t *testing.T) {
	cfg := loadFromString(t, `
agent:
  dsn: "http://k@localhost/1"
  retry_delays: []
`)
	if len(cfg.Agent.RetryDelays) != 0 {
		t.Errorf("retry_delays: got %v, want empty", cfg.Agent.RetryDelays)
	}
}

func TestLoad_DSNFromEnv(t *testing.T) {
	t.Setenv("TEST_BEACON_DSN", "https://envkey@example.com/9")
	cfg := loadFromString(t, `
agent:
  dsn_env: TEST_BEACON_DSN
`)
	if got := cfg.Agent.ResolvedDSN(); got != "https://envkey@example.com/9" {
		t.Errorf("ResolvedDSN(): got %q", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing dsn", "agent:\n  environment: prod\n"},
		{"unset dsn env", "agent:\n  dsn_env: TEST_BEACON_UNSET_VAR\n"},
		{"bad level", "agent:\n  dsn: http://k@h/1\n  log_level: loud\n"},
		{"negative workers", "agent:\n  dsn: http://k@h/1\n  workers: -1\n"},
		{"negative delay", "agent:\n  dsn: http://k@h/1\n  retry_delays: [-1s]\n"},
		{"unknown category", "agent:\n  dsn: http://k@h/1\n  buffers:\n    profile:\n      capacity: 1\n"},
		{"bad overflow", "agent:\n  dsn: http://k@h/1\n  buffers:\n    error:\n      overflow: sometimes\n"},
		{"batching errors", "agent:\n  dsn: http://k@h/1\n  buffers:\n    error:\n      batch_size: 10\n"},
		{"negative weight", "agent:\n  dsn: http://k@h/1\n  buffers:\n    log:\n      weight: -2\n"},
		{"bad yaml", "agent: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTLSConfig_Enabled(t *testing.T) {
	if (TLSConfig{}).Enabled() {
		t.Error("empty TLSConfig should not be enabled")
	}
	if !(TLSConfig{CAFile: "ca.pem"}).Enabled() {
		t.Error("TLSConfig with CA file should be enabled")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(level string) {
		t.Helper()
		data := "agent:\n  dsn: http://k@localhost/1\n  log_level: " + level + "\n"
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("info")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	go func() { _ = Watch(ctx, path, func(c *Config) { changes <- c }) }()

	// Give the watcher time to register before writing.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		write("debug")
		select {
		case c := <-changes:
			if c.Agent.Level() != slog.LevelDebug {
				t.Fatalf("reloaded level: got %v", c.Agent.Level())
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
