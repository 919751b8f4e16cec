// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, defaults and the file watcher

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:9000"
  max_body_bytes: 2048
  request_timeout: "10s"

database:
  path: "./test.db"

model:
  provider: "Anthropic"
  model: "claude-sonnet-4-5"
  api_key: "sk-test"
  max_tokens: 2048

execution:
  timeout: "2m"
  stuck_after: "15m"
  sweep_schedule: "*/10 * * * *"
  max_concurrent: 3
  enforce_limit: true
  max_result_chars: 5000

security:
  allowed_origins:
    - "http://localhost:5173"
  rate_limit:
    enabled: true
    window: "1m"
    max_requests: 20

cache:
  enabled: true
  ttl: "30s"
  max_entries: 10

logging:
  level: "debug"
  format: "json"

telemetry:
  enabled: true
  exporter: "stdout"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:9000")
	}
	if cfg.Server.MaxBodyBytes != 2048 {
		t.Errorf("Server.MaxBodyBytes = %d, want 2048", cfg.Server.MaxBodyBytes)
	}
	if cfg.Server.RequestTimeout != 10*time.Second {
		t.Errorf("Server.RequestTimeout = %v, want 10s", cfg.Server.RequestTimeout)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Model.Provider != "anthropic" {
		t.Errorf("Model.Provider = %q, want lowercased %q", cfg.Model.Provider, "anthropic")
	}
	if cfg.Model.MaxTokens != 2048 {
		t.Errorf("Model.MaxTokens = %d, want 2048", cfg.Model.MaxTokens)
	}
	if cfg.Execution.Timeout != 2*time.Minute {
		t.Errorf("Execution.Timeout = %v, want 2m", cfg.Execution.Timeout)
	}
	if cfg.Execution.StuckAfter != 15*time.Minute {
		t.Errorf("Execution.StuckAfter = %v, want 15m", cfg.Execution.StuckAfter)
	}
	if cfg.Execution.StuckAfterMinutes() != 15 {
		t.Errorf("StuckAfterMinutes() = %d, want 15", cfg.Execution.StuckAfterMinutes())
	}
	if cfg.Execution.SweepSchedule != "*/10 * * * *" {
		t.Errorf("Execution.SweepSchedule = %q", cfg.Execution.SweepSchedule)
	}
	if cfg.Execution.MaxConcurrent != 3 || !cfg.Execution.EnforceLimit {
		t.Errorf("Execution concurrency = %d/%t, want 3/true", cfg.Execution.MaxConcurrent, cfg.Execution.EnforceLimit)
	}
	if cfg.Execution.MaxResultChars != 5000 {
		t.Errorf("Execution.MaxResultChars = %d, want 5000", cfg.Execution.MaxResultChars)
	}
	if len(cfg.Security.AllowedOrigins) != 1 || cfg.Security.AllowedOrigins[0] != "http://localhost:5173" {
		t.Errorf("Security.AllowedOrigins = %v", cfg.Security.AllowedOrigins)
	}
	if cfg.Security.RateLimit.Window != time.Minute || cfg.Security.RateLimit.MaxRequests != 20 {
		t.Errorf("RateLimit = %v/%d, want 1m/20", cfg.Security.RateLimit.Window, cfg.Security.RateLimit.MaxRequests)
	}
	if !cfg.Cache.Enabled || cfg.Cache.TTL != 30*time.Second || cfg.Cache.MaxEntries != 10 {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Exporter != "stdout" {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.Model.Provider != "google" {
		t.Errorf("Model.Provider = %q, want google", cfg.Model.Provider)
	}
	if cfg.Execution.Timeout != 5*time.Minute {
		t.Errorf("Execution.Timeout = %v, want 5m", cfg.Execution.Timeout)
	}
	if cfg.Execution.StuckAfter != 10*time.Minute {
		t.Errorf("Execution.StuckAfter = %v, want 10m", cfg.Execution.StuckAfter)
	}
	if cfg.Execution.SweepSchedule != "@every 5m" {
		t.Errorf("Execution.SweepSchedule = %q, want @every 5m", cfg.Execution.SweepSchedule)
	}
	if cfg.Execution.MaxConcurrent != 5 {
		t.Errorf("Execution.MaxConcurrent = %d, want 5", cfg.Execution.MaxConcurrent)
	}
	if cfg.Execution.MaxResultChars != 100000 {
		t.Errorf("Execution.MaxResultChars = %d, want 100000", cfg.Execution.MaxResultChars)
	}
	if cfg.Server.MaxBodyBytes != 1<<20 {
		t.Errorf("Server.MaxBodyBytes = %d, want 1MiB", cfg.Server.MaxBodyBytes)
	}
	if cfg.Security.RateLimit.Window != 15*time.Minute || cfg.Security.RateLimit.MaxRequests != 100 {
		t.Errorf("RateLimit = %v/%d, want 15m/100", cfg.Security.RateLimit.Window, cfg.Security.RateLimit.MaxRequests)
	}
	if cfg.Security.TrustProxy {
		t.Error("Security.TrustProxy should default to false")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CREWDECK_DB", "/var/lib/crewdeck/test.db")
	t.Setenv("TEST_CREWDECK_KEY", "gemini-secret")

	configPath := writeConfig(t, `
database:
  path: "${TEST_CREWDECK_DB}"
model:
  api_key: "${TEST_CREWDECK_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/var/lib/crewdeck/test.db" {
		t.Errorf("Database.Path = %q, want expanded value", cfg.Database.Path)
	}
	if cfg.Model.APIKey != "gemini-secret" {
		t.Errorf("Model.APIKey = %q, want expanded value", cfg.Model.APIKey)
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	os.Unsetenv("TEST_CREWDECK_UNSET_KEY")

	configPath := writeConfig(t, `
database:
  path: "./test.db"
model:
  api_key: "${TEST_CREWDECK_UNSET_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.APIKey != "" {
		t.Errorf("Model.APIKey = %q, want empty string for unset var", cfg.Model.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/gateway.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "database: [unclosed")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{
			name:    "timeout",
			content: "database:\n  path: x.db\nexecution:\n  timeout: \"soon\"\n",
			field:   "execution.timeout",
		},
		{
			name:    "stuck_after",
			content: "database:\n  path: x.db\nexecution:\n  stuck_after: \"10\"\n",
			field:   "execution.stuck_after",
		},
		{
			name:    "rate window",
			content: "database:\n  path: x.db\nsecurity:\n  rate_limit:\n    window: \"abc\"\n",
			field:   "security.rate_limit.window",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected error for invalid duration, got nil")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q should mention %q", err.Error(), tt.field)
			}
		})
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing database path",
			content: "server:\n  http_addr: \":5000\"\n",
			want:    "database.path",
		},
		{
			name:    "unknown provider",
			content: "database:\n  path: x.db\nmodel:\n  provider: mystery\n",
			want:    "model.provider",
		},
		{
			name:    "stuck_after too small",
			content: "database:\n  path: x.db\nexecution:\n  stuck_after: \"30s\"\n",
			want:    "execution.stuck_after",
		},
		{
			name:    "negative timeout",
			content: "database:\n  path: x.db\nexecution:\n  timeout: \"-1s\"\n",
			want:    "execution.timeout",
		},
		{
			name:    "stuck_after not longer than timeout",
			content: "database:\n  path: x.db\nexecution:\n  timeout: \"15m\"\n",
			want:    "must be longer than execution.timeout",
		},
		{
			name:    "stuck_after equal to timeout",
			content: "database:\n  path: x.db\nexecution:\n  timeout: \"10m\"\n  stuck_after: \"10m\"\n",
			want:    "execution.stuck_after",
		},
		{
			name:    "max_result_chars beyond size guard",
			content: "database:\n  path: x.db\nexecution:\n  max_result_chars: 2000000\n",
			want:    "execution.max_result_chars",
		},
		{
			name:    "unknown log format",
			content: "database:\n  path: x.db\nlogging:\n  format: xml\n",
			want:    "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_A", "alpha")
	t.Setenv("TEST_VAR_B", "beta")

	tests := []struct {
		input string
		want  string
	}{
		{"plain", "plain"},
		{"${TEST_VAR_A}", "alpha"},
		{"${TEST_VAR_A}-${TEST_VAR_B}", "alpha-beta"},
		{"prefix ${TEST_VAR_B} suffix", "prefix beta suffix"},
		{"$TEST_VAR_A", "$TEST_VAR_A"},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	configPath := writeConfig(t, "database:\n  path: x.db\nlogging:\n  level: info\n")

	reloaded := make(chan *Config, 4)
	w := NewWatcher(configPath, slog.New(slog.DiscardHandler), func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configPath, []byte("database:\n  path: x.db\nlogging:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Logging.Level != "debug" {
			t.Errorf("reloaded Logging.Level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the config change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
