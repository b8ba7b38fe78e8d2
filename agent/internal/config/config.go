package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultWorkers              = 4
	DefaultTickInterval         = 5 * time.Second
	DefaultClientReportInterval = 30 * time.Second
	DefaultDedupeTTL            = 30 * time.Second
	DefaultRateLimitBackoff     = 60 * time.Second
	DefaultHTTPTimeout          = 30 * time.Second
	DefaultCompressThreshold    = 1024
	DefaultMetricsAddr          = ":9464"
	DefaultOverflow             = "drop_newest"
)

// DefaultRetryDelays is used when retry_delays is absent. An explicit empty
// list disables retries.
var DefaultRetryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Config is the top-level configuration file. Only the agent: key is read;
// the server binary has its own loader.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// DSN is the ingest endpoint. DSNEnv names an environment variable that
	// holds it instead, so keys stay out of the file.
	DSN    string `yaml:"dsn"`
	DSNEnv string `yaml:"dsn_env"`

	Environment string `yaml:"environment"`
	Release     string `yaml:"release"`
	ServerName  string `yaml:"server_name"`

	// LogLevel is one of debug | info | warn | error. It is the only setting
	// applied on hot reload.
	LogLevel string `yaml:"log_level"`

	// Workers bounds concurrent HTTP sends.
	Workers int `yaml:"workers"`

	// TickInterval is the fallback drain cadence when no push signal arrives.
	TickInterval time.Duration `yaml:"tick_interval"`

	// ClientReportInterval controls how often discard counts are shipped.
	ClientReportInterval time.Duration `yaml:"client_report_interval"`

	// RetryDelays is the wait before each retry of a 5xx or network failure.
	RetryDelays []time.Duration `yaml:"retry_delays"`

	DedupeTTL        time.Duration `yaml:"dedupe_ttl"`
	RateLimitDefault time.Duration `yaml:"rate_limit_default"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`

	// CompressThreshold gzips request bodies of at least this many bytes.
	// Zero disables compression.
	CompressThreshold int `yaml:"compress_threshold"`

	TLS TLSConfig `yaml:"tls"`

	// Buffers is keyed by category: error | check_in | transaction | log.
	Buffers map[string]BufferConfig `yaml:"buffers"`

	// MetricsAddr is the listen address for /metrics and /healthz. Empty
	// disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// BufferConfig sizes one category buffer and its scheduler weight.
type BufferConfig struct {
	Capacity  int    `yaml:"capacity"`
	BatchSize int    `yaml:"batch_size"`
	Overflow  string `yaml:"overflow"`
	Weight    int    `yaml:"weight"`
}

// TLSConfig holds HTTPS client options for the ingest connection.
type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// InsecureSkipVerify disables certificate verification. Only use this
	// against a local development server.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Enabled reports whether any TLS option is set.
func (t TLSConfig) Enabled() bool {
	return t.CAFile != "" || t.CertFile != "" || t.KeyFile != "" || t.InsecureSkipVerify
}

// ResolvedDSN returns DSN, or the value of DSNEnv when DSN is empty.
func (a AgentConfig) ResolvedDSN() string {
	if a.DSN != "" {
		return a.DSN
	}
	if a.DSNEnv == "" {
		return ""
	}
	return os.Getenv(a.DSNEnv)
}

// Level parses LogLevel, defaulting to info.
func (a AgentConfig) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(a.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// defaultBuffers returns the per-category buffer defaults.
func defaultBuffers() map[string]BufferConfig {
	return map[string]BufferConfig{
		"error":       {Capacity: 100, BatchSize: 1, Overflow: DefaultOverflow, Weight: 5},
		"check_in":    {Capacity: 100, BatchSize: 1, Overflow: DefaultOverflow, Weight: 4},
		"transaction": {Capacity: 1000, BatchSize: 1, Overflow: DefaultOverflow, Weight: 3},
		"log":         {Capacity: 1000, BatchSize: 100, Overflow: DefaultOverflow, Weight: 2},
	}
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	fillBuffers(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			LogLevel:             "info",
			Workers:              DefaultWorkers,
			TickInterval:         DefaultTickInterval,
			ClientReportInterval: DefaultClientReportInterval,
			RetryDelays:          append([]time.Duration(nil), DefaultRetryDelays...),
			DedupeTTL:            DefaultDedupeTTL,
			RateLimitDefault:     DefaultRateLimitBackoff,
			HTTPTimeout:          DefaultHTTPTimeout,
			CompressThreshold:    DefaultCompressThreshold,
			MetricsAddr:          DefaultMetricsAddr,
		},
	}
}

// fillBuffers adds missing categories and zero fields from the defaults.
// A category entry in the file replaces the default wholesale, so partial
// entries are completed here.
func fillBuffers(cfg *Config) {
	if cfg.Agent.Buffers == nil {
		cfg.Agent.Buffers = make(map[string]BufferConfig)
	}
	for name, def := range defaultBuffers() {
		b, ok := cfg.Agent.Buffers[name]
		if !ok {
			cfg.Agent.Buffers[name] = def
			continue
		}
		if b.Capacity == 0 {
			b.Capacity = def.Capacity
		}
		if b.BatchSize == 0 {
			b.BatchSize = def.BatchSize
		}
		if b.Overflow == "" {
			b.Overflow = def.Overflow
		}
		if b.Weight == 0 {
			b.Weight = def.Weight
		}
		cfg.Agent.Buffers[name] = b
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ResolvedDSN() == "" {
		return fmt.Errorf("agent.dsn or agent.dsn_env is required")
	}
	switch a.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent.log_level: unknown level %q", a.LogLevel)
	}
	if a.Workers <= 0 {
		return fmt.Errorf("agent.workers must be positive")
	}
	if a.TickInterval <= 0 {
		return fmt.Errorf("agent.tick_interval must be positive")
	}
	if a.ClientReportInterval <= 0 {
		return fmt.Errorf("agent.client_report_interval must be positive")
	}
	for i, d := range a.RetryDelays {
		if d <= 0 {
			return fmt.Errorf("agent.retry_delays[%d] must be positive", i)
		}
	}
	if a.DedupeTTL <= 0 {
		return fmt.Errorf("agent.dedupe_ttl must be positive")
	}
	if a.CompressThreshold < 0 {
		return fmt.Errorf("agent.compress_threshold must not be negative")
	}
	for name, b := range a.Buffers {
		switch name {
		case "error", "check_in", "transaction", "log":
		default:
			return fmt.Errorf("agent.buffers: unknown category %q", name)
		}
		if b.Capacity <= 0 {
			return fmt.Errorf("agent.buffers.%s.capacity must be positive", name)
		}
		if b.BatchSize <= 0 {
			return fmt.Errorf("agent.buffers.%s.batch_size must be positive", name)
		}
		if b.BatchSize > 1 && name != "log" {
			return fmt.Errorf("agent.buffers.%s: only log supports batch_size", name)
		}
		if b.Weight <= 0 {
			return fmt.Errorf("agent.buffers.%s.weight must be positive", name)
		}
		switch b.Overflow {
		case "drop_newest", "drop_oldest":
		default:
			return fmt.Errorf("agent.buffers.%s: unknown overflow policy %q", name, b.Overflow)
		}
	}
	return nil
}
