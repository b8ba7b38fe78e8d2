// Package clock abstracts the time operations used by the delivery core so
// rate-limit windows, dedupe TTLs, retry delays and scheduler ticks can be
// driven deterministically in tests.
//
// Production code uses Real(). Tests use Fake(start) and move time with
// Advance; WaitForTimers blocks until a goroutine has registered its timer so
// the advance cannot race the registration:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go worker(c)         // calls c.After(time.Second)
//	c.WaitForTimers(1)
//	c.Advance(time.Second)
package clock
