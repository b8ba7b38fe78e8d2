// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort: port for ingest, the REST API and the WebSocket hub (default 8080)
//   - Auth.Mode: "dsn" or "none"
//   - Auth.PublicKeys: accepted DSN public keys; Auth.PublicKeyEnv adds one from the environment
//   - Events.TTL: how long a received event stays queryable (default 15m)
//   - Events.MaxEvents: store bound (default 10000)
//   - MaxBodyBytes: decompressed request size cap (default 20 MiB)
//   - RateLimits: directives injected into ingest responses
//   - WSInterval: stats push interval (default 5s)
//
// A rate-limit rule with reject: true answers matching envelopes with 429;
// otherwise the directive is only advertised and the envelope is stored.
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
