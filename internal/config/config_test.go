package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haggle-net/haggle/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.IPC.Addr != "127.0.0.1:8787" {
		t.Errorf("IPC.Addr = %q, want %q", cfg.IPC.Addr, "127.0.0.1:8787")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Connectivity.BeaconInterval() != 10*time.Second {
		t.Errorf("default BeaconInterval() = %v, want %v", cfg.Connectivity.BeaconInterval(), 10*time.Second)
	}

	if cfg.Datastore.AgeBatchCap != 256 {
		t.Errorf("Datastore.AgeBatchCap = %d, want %d", cfg.Datastore.AgeBatchCap, 256)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
ipc:
  addr: "127.0.0.1:9000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
connectivity:
  resource_policy: "high"
  loss_max: 5
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.IPC.Addr != "127.0.0.1:9000" {
		t.Errorf("IPC.Addr = %q, want %q", cfg.IPC.Addr, "127.0.0.1:9000")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Connectivity.BeaconInterval() != 5*time.Second {
		t.Errorf("BeaconInterval() = %v, want %v", cfg.Connectivity.BeaconInterval(), 5*time.Second)
	}

	if cfg.Connectivity.LossMax != 5 {
		t.Errorf("Connectivity.LossMax = %d, want %d", cfg.Connectivity.LossMax, 5)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override ipc.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
ipc:
  addr: "127.0.0.1:5555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.IPC.Addr != "127.0.0.1:5555" {
		t.Errorf("IPC.Addr = %q, want %q", cfg.IPC.Addr, "127.0.0.1:5555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Datastore.FilterReplayLimit != 10 {
		t.Errorf("Datastore.FilterReplayLimit = %d, want default %d", cfg.Datastore.FilterReplayLimit, 10)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty ipc addr over udp",
			modify: func(cfg *config.Config) {
				cfg.IPC.Transport = "udp"
				cfg.IPC.Addr = ""
			},
			wantErr: config.ErrEmptyIPCAddr,
		},
		{
			name: "empty socket path over unix",
			modify: func(cfg *config.Config) {
				cfg.IPC.Transport = "unix"
				cfg.IPC.SocketPath = ""
			},
			wantErr: config.ErrEmptySocketPath,
		},
		{
			name: "invalid transport",
			modify: func(cfg *config.Config) {
				cfg.IPC.Transport = "carrier-pigeon"
			},
			wantErr: config.ErrInvalidIPCTransport,
		},
		{
			name: "invalid resource policy",
			modify: func(cfg *config.Config) {
				cfg.Connectivity.ResourcePolicy = "turbo"
			},
			wantErr: config.ErrInvalidResourcePolicy,
		},
		{
			name: "zero loss max",
			modify: func(cfg *config.Config) {
				cfg.Connectivity.LossMax = 0
			},
			wantErr: config.ErrInvalidLossMax,
		},
		{
			name: "zero age batch cap",
			modify: func(cfg *config.Config) {
				cfg.Datastore.AgeBatchCap = 0
			},
			wantErr: config.ErrInvalidAgeBatchCap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBeaconIntervalProfiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy string
		want   time.Duration
	}{
		{"unlimited", 2 * time.Second},
		{"high", 5 * time.Second},
		{"medium", 10 * time.Second},
		{"low", 15 * time.Second},
		{"unrecognized", 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			t.Parallel()
			c := config.ConnectivityConfig{ResourcePolicy: tt.policy}
			if got := c.BeaconInterval(); got != tt.want {
				t.Errorf("BeaconInterval() for %q = %v, want %v", tt.policy, got, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
ipc:
  addr: "127.0.0.1:8787"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	// Set env overrides.
	t.Setenv("HAGGLE_IPC_ADDR", "127.0.0.1:9999")
	t.Setenv("HAGGLE_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.IPC.Addr != "127.0.0.1:9999" {
		t.Errorf("IPC.Addr = %q, want %q (from env)", cfg.IPC.Addr, "127.0.0.1:9999")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
ipc:
  addr: "127.0.0.1:8787"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("HAGGLE_METRICS_ADDR", ":9200")
	t.Setenv("HAGGLE_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "haggled.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
