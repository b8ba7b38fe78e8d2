package main

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/obsidianstack/beacon/agent/internal/buffer"
	"github.com/obsidianstack/beacon/agent/internal/client"
	"github.com/obsidianstack/beacon/agent/internal/config"
	"github.com/obsidianstack/beacon/agent/internal/transport"
	"github.com/obsidianstack/beacon/pkg/types"
)

// clientOptions maps the agent config onto client.Options.
func clientOptions(a config.AgentConfig, logger *slog.Logger) (client.Options, error) {
	opts := client.Options{
		DSN:               a.ResolvedDSN(),
		Environment:       a.Environment,
		Release:           a.Release,
		ServerName:        a.ServerName,
		Buffers:           make(map[types.Category]buffer.Config, len(a.Buffers)),
		Weights:           make(map[types.Category]int, len(a.Buffers)),
		Workers:           a.Workers,
		TickInterval:      a.TickInterval,
		ReportInterval:    a.ClientReportInterval,
		RetryDelays:       a.RetryDelays,
		HTTPTimeout:       a.HTTPTimeout,
		CompressThreshold: a.CompressThreshold,
		DedupeTTL:         a.DedupeTTL,
		RateLimitDefault:  a.RateLimitDefault,
		Logger:            logger,
	}
	if a.TLS.Enabled() {
		opts.TLS = &transport.TLSConfig{
			CAFile:             a.TLS.CAFile,
			CertFile:           a.TLS.CertFile,
			KeyFile:            a.TLS.KeyFile,
			InsecureSkipVerify: a.TLS.InsecureSkipVerify,
		}
	}
	for name, b := range a.Buffers {
		c, err := types.ParseCategory(name)
		if err != nil {
			return client.Options{}, fmt.Errorf("buffers: %w", err)
		}
		opts.Buffers[c] = buffer.Config{
			Capacity:  b.Capacity,
			BatchSize: b.BatchSize,
			Overflow:  buffer.OverflowPolicy(b.Overflow),
		}
		opts.Weights[c] = b.Weight
	}
	return opts, nil
}

// changedBesidesLevel reports whether anything other than log_level differs.
func changedBesidesLevel(old, updated config.AgentConfig) bool {
	old.LogLevel, updated.LogLevel = "", ""
	return !reflect.DeepEqual(old, updated)
}

// checkEndpointCert warns when the ingest endpoint's certificate is expired,
// expiring, or cannot be inspected.
func checkEndpointCert(ctx context.Context, opts client.Options) {
	d, err := transport.ParseDSN(opts.DSN)
	if err != nil {
		return
	}
	cs := transport.CheckCert(ctx, d, opts.TLS)
	if cs == nil {
		return
	}
	switch cs.Status {
	case "valid":
		slog.Debug("ingest certificate ok", "host", cs.Host, "days_left", cs.DaysLeft)
	case "unreachable":
		slog.Warn("ingest certificate could not be inspected", "host", cs.Host)
	default:
		slog.Warn("ingest certificate "+cs.Status, "host", cs.Host, "issuer", cs.Issuer,
			"not_after", cs.NotAfter, "days_left", cs.DaysLeft)
	}
}
