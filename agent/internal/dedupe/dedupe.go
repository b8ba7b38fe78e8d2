package dedupe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/obsidianstack/beacon/agent/internal/clock"
	"github.com/obsidianstack/beacon/pkg/types"
)

// DefaultTTL is how long a fingerprint suppresses repeats.
const DefaultTTL = 30 * time.Second

// Result is the outcome of Insert.
type Result int

const (
	// ResultNew means the fingerprint was not present; the item should be sent.
	ResultNew Result = iota
	// ResultExisting means the fingerprint was already present; the caller must
	// discard the item as a duplicate.
	ResultExisting
)

func (r Result) String() string {
	if r == ResultExisting {
		return "existing"
	}
	return "new"
}

// Deduplicator is a fingerprint cache with TTL sweeping. It is safe for
// concurrent use.
type Deduplicator struct {
	mu      sync.Mutex
	entries map[Fingerprint]time.Time
	ttl     time.Duration
	clock   clock.Clock
}

// New returns an empty Deduplicator. A non-positive ttl selects
// DefaultTTL.
func New(ttl time.Duration, clk clock.Clock) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Deduplicator{
		entries: make(map[Fingerprint]time.Time),
		ttl:     ttl,
		clock:   clk,
	}
}

// Insert records e's fingerprint. It returns ResultNew on first sight and ResultExisting
// while the entry is present, stale or not. Existing entries keep their
// original insertion time.
func (d *Deduplicator) Insert(e *types.Error) Result {
	fp := FingerprintOf(e)
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[fp]; ok {
		return ResultExisting
	}
	d.entries[fp] = now
	return ResultNew
}

// Sweep removes every entry whose own age has reached the TTL and returns how
// many were removed. Entries inserted after the sweep started are compared
// against their own insertion time, so they are never removed early.
func (d *Deduplicator) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	removed := 0
	for fp, at := range d.entries {
		if now.Sub(at) >= d.ttl {
			delete(d.entries, fp)
			removed++
		}
	}
	return removed
}

// Len returns the number of fingerprints held.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// TTL returns the configured entry lifetime.
func (d *Deduplicator) TTL() time.Duration { return d.ttl }

// Run sweeps every TTL until ctx is cancelled.
func (d *Deduplicator) Run(ctx context.Context) {
	t := d.clock.NewTicker(d.ttl)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := d.Sweep(); n > 0 {
				slog.Debug("dedupe: swept expired fingerprints", "count", n)
			}
		}
	}
}
