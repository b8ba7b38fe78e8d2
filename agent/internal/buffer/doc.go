// Package buffer holds submitted telemetry in one bounded FIFO queue per
// category until the scheduler drains it.
//
// Push never blocks beyond a short critical section. When a buffer is full
// the configured overflow policy decides what is lost:
//
//   - drop_newest (default): the incoming item is rejected and older data
//     wins, so a burst cannot push out what was already queued.
//   - drop_oldest: the oldest queued item is evicted to make room.
//
// Either way exactly one buffer_overflow discard is recorded per lost item.
//
// A buffer with BatchSize > 1 (the log buffer by default) groups events into
// LogBatch units at drain time; Drain's max then counts batches, not events.
//
// All buffers of a Set share one notify channel with capacity 1. Push sends a
// non-blocking signal on it; the scheduler selects on Notify to wake up.
package buffer
