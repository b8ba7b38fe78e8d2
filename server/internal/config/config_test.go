package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/obsidianstack/beacon/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// Agent-only file; server section absent.
	p := writeConfig(t, `agent:
  dsn: "http://key@localhost:8080/1"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Server.Events.TTL != DefaultEventTTL {
		t.Errorf("events.ttl: got %v, want %v", cfg.Server.Events.TTL, DefaultEventTTL)
	}
	if cfg.Server.Events.MaxEvents != DefaultMaxEvents {
		t.Errorf("events.max_events: got %d, want %d", cfg.Server.Events.MaxEvents, DefaultMaxEvents)
	}
	if cfg.Server.Auth.Mode != "none" {
		t.Errorf("auth.mode: got %q, want none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.WSInterval != DefaultWSInterval {
		t.Errorf("ws_interval: got %v, want %v", cfg.Server.WSInterval, DefaultWSInterval)
	}
}

func TestLoad_FullServer(t *testing.T) {
	t.Setenv("BEACON_TEST_KEY", "envkey")
	p := writeConfig(t, `server:
  http_port: 9091
  auth:
    mode: dsn
    public_keys: [abc]
    public_key_env: BEACON_TEST_KEY
  events:
    ttl: 10m
    max_events: 50
  rate_limits:
    - categories: [error, monitor]
      retry_after: 30s
      reject: true
  ws_interval: 1s
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9091 {
		t.Errorf("http_port: got %d, want 9091", cfg.Server.HTTPPort)
	}
	keys := cfg.Server.Auth.Keys()
	if len(keys) != 2 || keys[0] != "abc" || keys[1] != "envkey" {
		t.Errorf("Keys: got %v, want [abc envkey]", keys)
	}
	if cfg.Server.Events.TTL != 10*time.Minute {
		t.Errorf("events.ttl: got %v, want 10m", cfg.Server.Events.TTL)
	}
	if len(cfg.Server.RateLimits) != 1 || !cfg.Server.RateLimits[0].Reject {
		t.Fatalf("rate_limits: got %+v", cfg.Server.RateLimits)
	}
}

func TestRateLimitRule(t *testing.T) {
	r := RateLimitRule{Categories: []string{"error", "monitor"}, RetryAfter: 30 * time.Second}
	if !r.Matches(types.CategoryError) || !r.Matches(types.CategoryCheckIn) {
		t.Error("rule should match error and check_in")
	}
	if r.Matches(types.CategoryLog) {
		t.Error("rule should not match log")
	}
	if got := r.Directive(); got != "30:error;monitor:organization" {
		t.Errorf("Directive: got %q", got)
	}

	all := RateLimitRule{RetryAfter: 500 * time.Millisecond}
	if !all.Matches(types.CategoryTransaction) {
		t.Error("rule without categories should match everything")
	}
	if got := all.Directive(); got != "1::organization" {
		t.Errorf("Directive: got %q, want 1::organization", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"port out of range", "server:\n  http_port: 70000\n", "http_port"},
		{"unknown auth mode", "server:\n  auth:\n    mode: apikey\n", "auth.mode"},
		{"dsn without keys", "server:\n  auth:\n    mode: dsn\n", "public_keys"},
		{"zero ttl", "server:\n  events:\n    ttl: 0s\n", "events.ttl"},
		{"zero max events", "server:\n  events:\n    max_events: 0\n", "max_events"},
		{"negative body cap", "server:\n  max_body_bytes: -1\n", "max_body_bytes"},
		{"zero ws interval", "server:\n  ws_interval: 0s\n", "ws_interval"},
		{"rule without retry", "server:\n  rate_limits:\n    - categories: [error]\n", "retry_after"},
		{"rule unknown category", "server:\n  rate_limits:\n    - categories: [profile]\n      retry_after: 1s\n", "unknown category"},
		{"bad yaml", "server: [\n", "parse yaml"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
