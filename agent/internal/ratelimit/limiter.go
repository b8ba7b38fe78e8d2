package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/obsidianstack/beacon/agent/internal/clock"
	"github.com/obsidianstack/beacon/pkg/types"
)

// Header names read from server responses.
const (
	HeaderRateLimits = "X-Sentry-Rate-Limits"
	HeaderRetryAfter = "Retry-After"
)

// DefaultBackoff is how long a category stays disabled after a 429 that
// carried no usable directive.
const DefaultBackoff = 60 * time.Second

// allCategories keys the entry set by a directive with an empty category list.
const allCategories types.Category = ""

// Limiter holds one disabled-until deadline per category.
type Limiter struct {
	mu             sync.RWMutex
	until          map[types.Category]time.Time
	clock          clock.Clock
	defaultBackoff time.Duration
}

// New returns a Limiter reading time from clk. A non-positive defaultBackoff
// selects DefaultBackoff.
func New(clk clock.Clock, defaultBackoff time.Duration) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	if defaultBackoff <= 0 {
		defaultBackoff = DefaultBackoff
	}
	return &Limiter{
		until:          make(map[types.Category]time.Time),
		clock:          clk,
		defaultBackoff: defaultBackoff,
	}
}

// IsLimited reports whether c is currently disabled.
func (l *Limiter) IsLimited(c types.Category) bool {
	now := l.clock.Now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	return now.Before(l.until[c]) || now.Before(l.until[allCategories])
}

// DisabledUntil returns the deadline for c, or the zero time if c is not
// limited.
func (l *Limiter) DisabledUntil(c types.Category) time.Time {
	now := l.clock.Now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	d := l.until[c]
	if all := l.until[allCategories]; all.After(d) {
		d = all
	}
	if !now.Before(d) {
		return time.Time{}
	}
	return d
}

// UpdateFromHeader applies a rate-limit directive header value. Malformed
// groups are skipped. It reports whether any group was applied.
func (l *Limiter) UpdateFromHeader(header string) bool {
	now := l.clock.Now()
	applied := false

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, group := range strings.Split(header, ",") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		parts := strings.Split(group, ":")
		d, ok := parseSeconds(parts[0])
		if !ok {
			slog.Debug("ratelimit: skipping malformed directive", "group", group)
			continue
		}
		deadline := now.Add(d)

		var names []string
		if len(parts) > 1 {
			names = strings.Split(parts[1], ";")
		}
		matched := false
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			c, err := types.ParseCategory(name)
			if err != nil {
				// Categories this client never sends.
				continue
			}
			l.extendLocked(c, deadline)
			matched = true
		}
		if !matched && allBlank(names) {
			l.extendLocked(allCategories, deadline)
			matched = true
		}
		applied = applied || matched
	}
	return applied
}

// UpdateFromResponse applies whatever directive a response carries. A 429
// without a usable rate-limit header falls back to Retry-After and then to the
// default backoff, applied to the given categories (all of them when none are
// given).
func (l *Limiter) UpdateFromResponse(status int, h http.Header, categories ...types.Category) {
	if v := h.Get(HeaderRateLimits); v != "" && l.UpdateFromHeader(v) {
		return
	}
	if status != http.StatusTooManyRequests {
		return
	}

	backoff := l.defaultBackoff
	if d, ok := parseRetryAfter(h.Get(HeaderRetryAfter), l.clock.Now()); ok {
		backoff = d
	}
	deadline := l.clock.Now().Add(backoff)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(categories) == 0 {
		l.extendLocked(allCategories, deadline)
		return
	}
	for _, c := range categories {
		l.extendLocked(c, deadline)
	}
}

// Cleanup drops expired entries and returns how many were removed.
func (l *Limiter) Cleanup() int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for c, until := range l.until {
		if !now.Before(until) {
			delete(l.until, c)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries held, expired or not.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.until)
}

// Run calls Cleanup every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	t := l.clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Cleanup(); n > 0 {
				slog.Debug("ratelimit: removed expired entries", "count", n)
			}
		}
	}
}

// extendLocked sets c's deadline unless a later one is already in place.
func (l *Limiter) extendLocked(c types.Category, deadline time.Time) {
	if deadline.After(l.until[c]) {
		l.until[c] = deadline
	}
}

func allBlank(names []string) bool {
	for _, n := range names {
		if strings.TrimSpace(n) != "" {
			return false
		}
	}
	return true
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if d, ok := parseSeconds(v); ok {
		return d, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// maxSeconds is the largest delay representable as a time.Duration.
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// parseSeconds reads a non-negative, finite number of seconds. Values beyond
// the time.Duration range are clamped to the maximum.
func parseSeconds(v string) (time.Duration, bool) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return 0, false
	}
	if secs >= maxSeconds {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(secs * float64(time.Second)), true
}
