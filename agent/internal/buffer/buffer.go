package buffer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/obsidianstack/beacon/pkg/types"
)

// OverflowPolicy selects which item is lost when a buffer is full.
type OverflowPolicy string

const (
	DropNewest OverflowPolicy = "drop_newest"
	DropOldest OverflowPolicy = "drop_oldest"
)

// Outcome is the result of Push.
type Outcome int

const (
	Accepted Outcome = iota
	Dropped
)

func (o Outcome) String() string {
	if o == Dropped {
		return "dropped"
	}
	return "accepted"
}

// Config sizes one buffer.
type Config struct {
	Capacity  int
	BatchSize int
	Overflow  OverflowPolicy
}

// Discarder receives discard counts. *clientreport.Recorder implements it.
type Discarder interface {
	Record(reason types.DiscardReason, c types.Category, quantity int)
}

// Buffer is a bounded FIFO queue for one category. It is safe for concurrent
// use.
type Buffer struct {
	category types.Category
	cfg      Config
	discard  Discarder
	notify   chan struct{}
	warn     rate.Sometimes

	mu      sync.Mutex
	items   []types.Item
	dropped uint64
}

// New returns an empty buffer. It panics on a non-positive capacity or an
// unknown overflow policy, which are startup configuration bugs.
func New(c types.Category, cfg Config, discard Discarder, notify chan struct{}) *Buffer {
	if cfg.Capacity <= 0 {
		panic(fmt.Sprintf("buffer: %s capacity must be positive, got %d", c, cfg.Capacity))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	switch cfg.Overflow {
	case "":
		cfg.Overflow = DropNewest
	case DropNewest, DropOldest:
	default:
		panic(fmt.Sprintf("buffer: %s has unknown overflow policy %q", c, cfg.Overflow))
	}
	if notify == nil {
		notify = make(chan struct{}, 1)
	}
	return &Buffer{
		category: c,
		cfg:      cfg,
		discard:  discard,
		notify:   notify,
		warn:     rate.Sometimes{First: 1, Interval: 10 * time.Second},
		items:    make([]types.Item, 0, min(cfg.Capacity, 64)),
	}
}

// Push appends it, applying the overflow policy when the buffer is full.
func (b *Buffer) Push(it types.Item) Outcome {
	b.mu.Lock()
	outcome, lost := Accepted, false
	if len(b.items) >= b.cfg.Capacity {
		b.dropped++
		lost = true
		if b.cfg.Overflow == DropNewest {
			outcome = Dropped
		} else {
			clear(b.items[:1])
			b.items = b.items[1:]
		}
	}
	if outcome == Accepted {
		b.items = append(b.items, it)
	}
	b.mu.Unlock()

	if lost {
		b.overflowed()
	}
	if outcome == Accepted {
		select {
		case b.notify <- struct{}{}:
		default:
		}
	}
	return outcome
}

func (b *Buffer) overflowed() {
	if b.discard != nil {
		b.discard.Record(types.ReasonBufferOverflow, b.category, 1)
	}
	b.warn.Do(func() {
		slog.Warn("buffer: full, discarding telemetry",
			"category", b.category,
			"capacity", b.cfg.Capacity,
			"policy", b.cfg.Overflow)
	})
}

// Drain removes up to max units in FIFO order. For batching buffers a unit is
// a LogBatch of up to BatchSize events.
func (b *Buffer) Drain(max int) []types.Item {
	if max <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.BatchSize <= 1 {
		n := min(max, len(b.items))
		out := make([]types.Item, n)
		copy(out, b.items[:n])
		b.release(n)
		return out
	}

	var out []types.Item
	for len(out) < max && len(b.items) > 0 {
		n := min(b.cfg.BatchSize, len(b.items))
		batch := &types.LogBatch{Items: make([]*types.LogEvent, 0, n)}
		for _, it := range b.items[:n] {
			if ev, ok := it.(*types.LogEvent); ok {
				batch.Items = append(batch.Items, ev)
			}
		}
		b.release(n)
		if len(batch.Items) > 0 {
			out = append(out, batch)
		}
	}
	return out
}

// release drops the first n items. Callers hold mu.
func (b *Buffer) release(n int) {
	clear(b.items[:n])
	b.items = b.items[n:]
	if len(b.items) == 0 {
		b.items = b.items[:0:0]
	}
}

// Len returns the number of queued items (events, for batching buffers).
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns the number of items lost to overflow since creation.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Category returns the buffer's category.
func (b *Buffer) Category() types.Category { return b.category }

// Batching reports whether Drain groups items into batches.
func (b *Buffer) Batching() bool { return b.cfg.BatchSize > 1 }
