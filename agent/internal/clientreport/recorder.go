package clientreport

import (
	"sort"
	"sync"
	"time"

	"github.com/obsidianstack/beacon/pkg/types"
)

type key struct {
	reason   types.DiscardReason
	category types.Category
}

// Recorder accumulates discard counts. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	pending map[key]int64
	totals  map[key]int64
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{
		pending: make(map[key]int64),
		totals:  make(map[key]int64),
	}
}

// Record counts quantity discarded items of category c. Non-positive
// quantities are ignored.
func (r *Recorder) Record(reason types.DiscardReason, c types.Category, quantity int) {
	if quantity <= 0 {
		return
	}
	k := key{reason, c}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[k] += int64(quantity)
	r.totals[k] += int64(quantity)
}

// Take returns the counts recorded since the previous Take as a report
// stamped with now, and resets them. It returns nil when nothing is pending.
func (r *Recorder) Take(now time.Time) *types.ClientReport {
	r.mu.Lock()
	pending := r.pending
	if len(pending) == 0 {
		r.mu.Unlock()
		return nil
	}
	r.pending = make(map[key]int64)
	r.mu.Unlock()

	return &types.ClientReport{
		Timestamp:       now.UTC(),
		DiscardedEvents: sorted(pending),
	}
}

// Restore adds the events of an unsent report back to the pending counts
// without touching the totals.
func (r *Recorder) Restore(rep *types.ClientReport) {
	if rep == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range rep.DiscardedEvents {
		r.pending[key{ev.Reason, ev.Category}] += ev.Quantity
	}
}

// Totals returns cumulative counts since the Recorder was created.
func (r *Recorder) Totals() []types.DiscardedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sorted(r.totals)
}

// Total returns the cumulative count for one reason and category.
func (r *Recorder) Total(reason types.DiscardReason, c types.Category) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals[key{reason, c}]
}

func sorted(m map[key]int64) []types.DiscardedEvent {
	out := make([]types.DiscardedEvent, 0, len(m))
	for k, n := range m {
		out = append(out, types.DiscardedEvent{Reason: k.reason, Category: k.category, Quantity: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Reason != out[j].Reason {
			return out[i].Reason < out[j].Reason
		}
		return out[i].Category < out[j].Category
	})
	return out
}
