// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: config tree parsed from YAML; the server reads its own
//     server: section with a separate loader
//   - AgentConfig: dsn / dsn_env, environment, release, server_name,
//     log_level, workers, tick_interval, client_report_interval,
//     retry_delays, dedupe_ttl, rate_limit_default, http_timeout,
//     compress_threshold, tls, buffers, metrics_addr
//   - BufferConfig: capacity, batch_size, overflow (drop_newest|drop_oldest),
//     weight; keyed by category
//   - TLSConfig: ca/cert/key files and insecure_skip_verify
//
// Load(path) reads the YAML file, applies defaults (4 workers, 5s tick, 30s
// client reports, retries after 1s/2s/4s, buffers 100/100/1000/1000 with
// weights 5/4/3/2), then validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It watches the parent directory so
// the rename→create pattern used by atomic-save editors (vim, VS Code) is
// picked up. Only log_level is applied live; the agent logs other changes
// as requiring a restart.
package config
