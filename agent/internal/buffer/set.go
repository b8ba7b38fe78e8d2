package buffer

import (
	"fmt"

	"github.com/obsidianstack/beacon/pkg/types"
)

// Set is one buffer per buffered category sharing a notify channel.
type Set struct {
	buffers map[types.Category]*Buffer
	notify  chan struct{}
}

// NewSet builds a buffer for every category in types.Categories. cfgs must
// have an entry for each of them.
func NewSet(cfgs map[types.Category]Config, discard Discarder) (*Set, error) {
	s := &Set{
		buffers: make(map[types.Category]*Buffer, len(cfgs)),
		notify:  make(chan struct{}, 1),
	}
	for _, c := range types.Categories() {
		cfg, ok := cfgs[c]
		if !ok {
			return nil, fmt.Errorf("buffer: no configuration for category %s", c)
		}
		if cfg.Capacity <= 0 {
			return nil, fmt.Errorf("buffer: %s capacity must be positive, got %d", c, cfg.Capacity)
		}
		switch cfg.Overflow {
		case "", DropNewest, DropOldest:
		default:
			return nil, fmt.Errorf("buffer: %s has unknown overflow policy %q", c, cfg.Overflow)
		}
		s.buffers[c] = New(c, cfg, discard, s.notify)
	}
	return s, nil
}

// Push routes it to the buffer of its category. A LogBatch is expanded into
// its events; the result is Dropped if any of them was.
func (s *Set) Push(it types.Item) (Outcome, error) {
	switch v := it.(type) {
	case *types.Error, *types.CheckIn, *types.Transaction, *types.LogEvent:
		return s.buffers[it.Category()].Push(it), nil
	case *types.LogBatch:
		out := Accepted
		for _, ev := range v.Items {
			if s.buffers[types.CategoryLog].Push(ev) == Dropped {
				out = Dropped
			}
		}
		return out, nil
	case nil:
		return Dropped, fmt.Errorf("buffer: nil item")
	}
	return Dropped, fmt.Errorf("buffer: unsupported item %T", it)
}

// Get returns the buffer for c, or nil for an unbuffered category.
func (s *Set) Get(c types.Category) *Buffer { return s.buffers[c] }

// Notify is signalled after every accepted push.
func (s *Set) Notify() <-chan struct{} { return s.notify }

// Len returns the queued item count per category.
func (s *Set) Len() map[types.Category]int {
	out := make(map[types.Category]int, len(s.buffers))
	for c, b := range s.buffers {
		out[c] = b.Len()
	}
	return out
}

// Empty reports whether every buffer is empty.
func (s *Set) Empty() bool {
	for _, b := range s.buffers {
		if b.Len() > 0 {
			return false
		}
	}
	return true
}
