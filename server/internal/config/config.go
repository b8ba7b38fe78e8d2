package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/beacon/pkg/types"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort   = 8080
	DefaultEventTTL   = 15 * time.Minute
	DefaultMaxEvents  = 10000
	DefaultMaxBody    = 20 << 20
	DefaultWSInterval = 5 * time.Second
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the ingest endpoint, REST API and WebSocket hub
	// listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how envelope requests are authenticated.
	Auth AuthConfig `yaml:"auth"`

	// Events controls in-memory event retention.
	Events EventsConfig `yaml:"events"`

	// MaxBodyBytes caps the decompressed size of one envelope request.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// RateLimits are rate-limit directives injected into ingest responses.
	RateLimits []RateLimitRule `yaml:"rate_limits"`

	// WSInterval is how often the WebSocket hub pushes stats.
	WSInterval time.Duration `yaml:"ws_interval"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: dsn | none.
	Mode string `yaml:"mode"`

	// PublicKeys lists accepted DSN public keys.
	PublicKeys []string `yaml:"public_keys"`

	// PublicKeyEnv names an environment variable holding one more accepted
	// public key.
	PublicKeyEnv string `yaml:"public_key_env"`
}

// Keys returns the accepted public keys, including the one resolved from the
// environment.
func (a AuthConfig) Keys() []string {
	keys := make([]string, 0, len(a.PublicKeys)+1)
	for _, k := range a.PublicKeys {
		if k != "" {
			keys = append(keys, k)
		}
	}
	if a.PublicKeyEnv != "" {
		if k := os.Getenv(a.PublicKeyEnv); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// EventsConfig controls in-memory event retention.
type EventsConfig struct {
	// TTL is how long a received event stays queryable. Default: 15m.
	TTL time.Duration `yaml:"ttl"`

	// MaxEvents bounds the store; the oldest event is evicted first.
	MaxEvents int `yaml:"max_events"`
}

// RateLimitRule is one directive the server adds to ingest responses.
type RateLimitRule struct {
	// Categories the rule applies to. Empty means every category.
	Categories []string `yaml:"categories"`

	// RetryAfter is the advertised back-off.
	RetryAfter time.Duration `yaml:"retry_after"`

	// Reject answers matching envelopes with 429 instead of storing them.
	Reject bool `yaml:"reject"`
}

// Matches reports whether the rule covers c.
func (r RateLimitRule) Matches(c types.Category) bool {
	if len(r.Categories) == 0 {
		return true
	}
	for _, name := range r.Categories {
		if rc, err := types.ParseCategory(name); err == nil && rc == c {
			return true
		}
	}
	return false
}

// Directive renders the rule as one X-Sentry-Rate-Limits entry.
func (r RateLimitRule) Directive() string {
	secs := int64(r.RetryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d:%s:organization", secs, strings.Join(r.Categories, ";"))
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Auth:     AuthConfig{Mode: "none"},
			Events: EventsConfig{
				TTL:       DefaultEventTTL,
				MaxEvents: DefaultMaxEvents,
			},
			MaxBodyBytes: DefaultMaxBody,
			WSInterval:   DefaultWSInterval,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "dsn":
		if len(s.Auth.Keys()) == 0 {
			return fmt.Errorf("server.auth.mode dsn needs public_keys or a set public_key_env")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want dsn|none", s.Auth.Mode)
	}
	if s.Events.TTL <= 0 {
		return fmt.Errorf("server.events.ttl must be positive")
	}
	if s.Events.MaxEvents <= 0 {
		return fmt.Errorf("server.events.max_events must be positive")
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if s.WSInterval <= 0 {
		return fmt.Errorf("server.ws_interval must be positive")
	}
	for i, r := range s.RateLimits {
		if r.RetryAfter <= 0 {
			return fmt.Errorf("server.rate_limits[%d].retry_after must be positive", i)
		}
		for _, name := range r.Categories {
			if _, err := types.ParseCategory(name); err != nil {
				return fmt.Errorf("server.rate_limits[%d]: %w", i, err)
			}
		}
	}
	return nil
}
