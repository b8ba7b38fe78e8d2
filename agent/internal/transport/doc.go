// Package transport delivers envelopes to the ingest endpoint over HTTP.
//
// Send encodes an envelope once and POSTs it to the envelope URL derived from
// the DSN, authenticating with the X-Sentry-Auth header. Large bodies are
// gzip-compressed. Every response, successful or not, is offered to the rate
// limiter so X-Sentry-Rate-Limits directives take effect immediately.
//
// Response handling:
//
//	2xx                 success; the body must be JSON carrying "id"
//	429                 rate_limited, no retry
//	other 4xx           server_error, no retry
//	5xx, network error  retried after each configured delay, then too_many_retries
//
// The rate limit is checked before every attempt, so a ban imposed by a 5xx
// response mid-retry stops the loop. Failures are returned as *SendError and
// recorded as discards against the envelope's categories; client report
// envelopes are never counted, so a lost report cannot feed the next one.
package transport
