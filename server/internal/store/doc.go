// Package store keeps received events in memory for inspection. It provides a
// thread-safe event store with TTL eviction, a size bound, and the ingest
// counters (accepted items per category, client-report discards) served by
// the stats API.
package store
