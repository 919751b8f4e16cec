// ABOUTME: Configuration loading and parsing for crewdeck-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete crewdeck-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Model     ModelConfig     `yaml:"model"`
	Execution ExecutionConfig `yaml:"execution"`
	Security  SecurityConfig  `yaml:"security"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	HTTPAddr     string `yaml:"http_addr"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ModelConfig selects and authenticates the text generation backend
type ModelConfig struct {
	Provider  string `yaml:"provider"` // google or anthropic
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

// ExecutionConfig bounds background executions and the stuck-execution sweep
type ExecutionConfig struct {
	// SweepSchedule is a cron spec; "@every 5m" style descriptors are accepted.
	SweepSchedule  string `yaml:"sweep_schedule"`
	MaxConcurrent  int    `yaml:"max_concurrent"`
	EnforceLimit   bool   `yaml:"enforce_limit"`
	MaxResultChars int    `yaml:"max_result_chars"`

	Timeout    time.Duration `yaml:"-"`
	StuckAfter time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TimeoutRaw    string `yaml:"timeout"`
	StuckAfterRaw string `yaml:"stuck_after"`
}

// SecurityConfig holds browser-facing protections
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	// TrustProxy keys rate limiting on the first X-Forwarded-For hop.
	// Enable only behind a proxy that overwrites the header.
	TrustProxy bool `yaml:"trust_proxy"`
}

// RateLimitConfig limits requests per client over a window
type RateLimitConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxRequests int  `yaml:"max_requests"`

	Window    time.Duration `yaml:"-"`
	WindowRaw string        `yaml:"window"`
}

// CacheConfig controls the optional GET response cache
type CacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxEntries int  `yaml:"max_entries"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig holds OpenTelemetry export configuration
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-http, stdout, none
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Defaults applied when the corresponding field is empty.
const (
	DefaultHTTPAddr       = "0.0.0.0:5000"
	DefaultProvider       = "google"
	DefaultTimeout        = 5 * time.Minute
	DefaultStuckAfter     = 10 * time.Minute
	DefaultSweepSchedule  = "@every 5m"
	DefaultMaxConcurrent  = 5
	DefaultMaxResultChars = 100000
	DefaultMaxBodyBytes   = 1 << 20
	DefaultRequestTimeout = 30 * time.Second
	DefaultRateWindow     = 15 * time.Minute
	DefaultRateMax        = 100
	DefaultCacheTTL       = 5 * time.Minute
	DefaultCacheEntries   = 500

	// MaxResultCharsLimit matches the 1 MiB result size guard; every
	// character takes at least one byte.
	MaxResultCharsLimit = 1 << 20
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// envVarPattern matches ${VAR_NAME}
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}

	c.Model.Provider = strings.ToLower(strings.TrimSpace(c.Model.Provider))
	if c.Model.Provider == "" {
		c.Model.Provider = DefaultProvider
	}

	if c.Execution.Timeout == 0 {
		c.Execution.Timeout = DefaultTimeout
	}
	if c.Execution.StuckAfter == 0 {
		c.Execution.StuckAfter = DefaultStuckAfter
	}
	if c.Execution.SweepSchedule == "" {
		c.Execution.SweepSchedule = DefaultSweepSchedule
	}
	if c.Execution.MaxConcurrent == 0 {
		c.Execution.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Execution.MaxResultChars == 0 {
		c.Execution.MaxResultChars = DefaultMaxResultChars
	}

	if c.Security.RateLimit.Window == 0 {
		c.Security.RateLimit.Window = DefaultRateWindow
	}
	if c.Security.RateLimit.MaxRequests == 0 {
		c.Security.RateLimit.MaxRequests = DefaultRateMax
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultCacheEntries
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Model.Provider {
	case "google", "anthropic":
	default:
		return fmt.Errorf("model.provider %q is not supported (use google or anthropic)", c.Model.Provider)
	}

	if c.Execution.Timeout < 0 {
		return fmt.Errorf("execution.timeout must be positive")
	}
	if c.Execution.StuckAfter < time.Minute {
		return fmt.Errorf("execution.stuck_after must be at least 1m")
	}
	if c.Execution.MaxConcurrent < 1 {
		return fmt.Errorf("execution.max_concurrent must be at least 1")
	}
	if c.Execution.StuckAfter <= c.Execution.Timeout {
		return fmt.Errorf("execution.stuck_after (%s) must be longer than execution.timeout (%s)",
			c.Execution.StuckAfter, c.Execution.Timeout)
	}
	if c.Execution.MaxResultChars < 1 || c.Execution.MaxResultChars > MaxResultCharsLimit {
		return fmt.Errorf("execution.max_result_chars must be between 1 and %d", MaxResultCharsLimit)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use text or json)", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.request_timeout", cfg.Server.RequestTimeoutRaw, &cfg.Server.RequestTimeout},
		{"execution.timeout", cfg.Execution.TimeoutRaw, &cfg.Execution.Timeout},
		{"execution.stuck_after", cfg.Execution.StuckAfterRaw, &cfg.Execution.StuckAfter},
		{"security.rate_limit.window", cfg.Security.RateLimit.WindowRaw, &cfg.Security.RateLimit.Window},
		{"cache.ttl", cfg.Cache.TTLRaw, &cfg.Cache.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// StuckAfterMinutes returns the sweep threshold in whole minutes.
func (c ExecutionConfig) StuckAfterMinutes() int {
	return int(c.StuckAfter / time.Minute)
}
