// Package auth provides authentication middleware for the ingest server.
//
// Middleware(mode, keys) wraps the envelope endpoint and validates the DSN
// public key a client sends, either in the X-Sentry-Auth header
// (sentry_key=...) or as the sentry_key query parameter.
//
// When mode != "dsn" or no keys are configured, all requests pass through
// (useful for local development with auth disabled). When the key is absent
// or unknown, the middleware answers 401 immediately.
package auth
