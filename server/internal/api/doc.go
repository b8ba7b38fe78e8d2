// Package api implements the HTTP REST API of the ingest server.
//
// New(store) returns an http.Handler that serves:
//
//	GET /api/v1/health        status, stored event count, uptime
//	GET /api/v1/events        live events, newest first ([]EventSummary)
//	                           ?category=error&project=1&limit=50
//	GET /api/v1/events/{id}   single event with payload; 404 if unknown or stale
//	GET /api/v1/stats         envelopes, accepted items per category,
//	                           client-report discards, generated_at
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for non-GET methods
//   - Read live entries from the store (stale entries excluded from lists)
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
