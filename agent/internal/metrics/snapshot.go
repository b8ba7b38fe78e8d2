package metrics

import "github.com/obsidianstack/beacon/pkg/types"

// Snapshot is a point-in-time view of the delivery core's counters.
type Snapshot struct {
	Buffered map[types.Category]int
	Capacity map[types.Category]int

	// Per category, including client_report.
	Sent     map[types.Category]uint64
	Failed   map[types.Category]uint64
	Filtered map[types.Category]uint64

	// Discarded holds cumulative totals per (reason, category).
	Discarded []types.DiscardedEvent

	RateLimited map[types.Category]bool

	Requests      uint64
	Retries       uint64
	Degraded      uint64
	Fingerprints  int
	RateLimitKeys int
}

// Source produces snapshots. *client.Client implements it.
type Source interface {
	Snapshot() Snapshot
}
