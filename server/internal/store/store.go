package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/obsidianstack/beacon/pkg/types"
)

// Event is one stored envelope item together with the time it was received.
type Event struct {
	ID          string          `json:"id"`
	Project     string          `json:"project"`
	Type        string          `json:"type"`
	Category    types.Category  `json:"category"`
	Quantity    int             `json:"quantity"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// Attachment describes an attachment that arrived with an event. The bytes
// themselves are not kept.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Category types.Category
	Project  string
	Limit    int
}

// Stats are the ingest counters accumulated since start.
type Stats struct {
	Envelopes int64                    `json:"envelopes"`
	Rejected  int64                    `json:"rejected"`
	Accepted  map[types.Category]int64 `json:"accepted"`
	Discarded []types.DiscardedEvent   `json:"discarded"`
	Stored    int                      `json:"stored"`
	Evicted   int64                    `json:"evicted"`
}

type discardKey struct {
	reason   types.DiscardReason
	category types.Category
}

// Store is a thread-safe in-memory event store, keyed by event id.
// A background goroutine (Run) periodically evicts events older than the
// configured TTL; Put evicts the oldest event once max is reached.
type Store struct {
	mu    sync.RWMutex
	data  map[string]*Event
	order []string // insertion order, oldest first
	ttl   time.Duration
	max   int
	now   func() time.Time // injectable for deterministic tests

	envelopes int64
	rejected  int64
	evicted   int64
	accepted  map[types.Category]int64
	discarded map[discardKey]int64
}

// New creates a Store with the given TTL and size bound.
func New(ttl time.Duration, maxEvents int) *Store {
	return &Store{
		data:      make(map[string]*Event),
		ttl:       ttl,
		max:       maxEvents,
		now:       time.Now,
		accepted:  make(map[types.Category]int64),
		discarded: make(map[discardKey]int64),
	}
}

// TTL returns the retention window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Put stores or replaces the event with e.ID and stamps ReceivedAt.
// Callers must not modify e after calling Put.
func (s *Store) Put(e *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ReceivedAt = s.now()
	if _, ok := s.data[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	s.data[e.ID] = e
	s.accepted[e.Category] += int64(e.Quantity)

	for len(s.data) > s.max && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		if _, ok := s.data[oldest]; ok {
			delete(s.data, oldest)
			s.evicted++
		}
	}
}

// Get returns the event with the given id and whether it was found. The event
// may be stale if TTL has elapsed.
func (s *Store) Get(id string) (*Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[id]
	return e, ok
}

// List returns events within the TTL that match f, newest first.
func (s *Store) List(f Filter) []*Event {
	s.mu.RLock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Event, 0, len(s.data))
	for _, e := range s.data {
		if !e.ReceivedAt.After(cutoff) {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.Project != "" && e.Project != f.Project {
			continue
		}
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Count returns the total number of events currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// RecordEnvelope counts one received envelope; rejected ones were answered
// with 429 and not stored.
func (s *Store) RecordEnvelope(rejected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes++
	if rejected {
		s.rejected++
	}
}

// RecordReport folds the discard counters of a client report into the stats.
func (s *Store) RecordReport(r *types.ClientReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range r.DiscardedEvents {
		if d.Quantity <= 0 {
			continue
		}
		s.discarded[discardKey{d.Reason, d.Category}] += d.Quantity
	}
}

// Stats returns a copy of the ingest counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Envelopes: s.envelopes,
		Rejected:  s.rejected,
		Accepted:  make(map[types.Category]int64, len(s.accepted)),
		Discarded: make([]types.DiscardedEvent, 0, len(s.discarded)),
		Stored:    len(s.data),
		Evicted:   s.evicted,
	}
	for c, n := range s.accepted {
		st.Accepted[c] = n
	}
	for k, n := range s.discarded {
		st.Discarded = append(st.Discarded, types.DiscardedEvent{Reason: k.reason, Category: k.category, Quantity: n})
	}
	sort.Slice(st.Discarded, func(i, j int) bool {
		a, b := st.Discarded[i], st.Discarded[j]
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return a.Category < b.Category
	})
	return st
}

// Evict removes events whose ReceivedAt is older than now minus TTL.
// It returns the number of events removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, e := range s.data {
		if !e.ReceivedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	if removed > 0 {
		kept := s.order[:0]
		for _, id := range s.order {
			if _, ok := s.data[id]; ok {
				kept = append(kept, id)
			}
		}
		s.order = kept
		s.evicted += int64(removed)
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL interval
// (minimum 1 second) so events are evicted promptly. Run blocks until ctx is
// cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale events", "count", n)
			}
		}
	}
}
