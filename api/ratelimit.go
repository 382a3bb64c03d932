package api

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
)

// RateLimiter admits at most limit calls in any rolling window.
// The remote service enforces a low per-tenant budget, so the default
// sits a margin under the published limit.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	clock  clock.Clock
	calls  []time.Time
}

// NewRateLimiter creates a rolling-window limiter.
func NewRateLimiter(limit int, window time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.WallClock
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		clock:  clk,
		calls:  make([]time.Time, 0, limit),
	}
}

// Wait blocks until another call is admitted or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := l.reserve(l.clock.Now())
		if wait <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// WaitTime returns how long a call made now would wait, without
// reserving a slot.
func (l *RateLimiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	l.expire(now)
	if len(l.calls) < l.limit {
		return 0
	}
	return l.calls[0].Add(l.window).Sub(now)
}

// reserve admits a call at now and returns 0, or returns how long the
// caller has to wait before trying again.
func (l *RateLimiter) reserve(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit <= 0 {
		return 0
	}
	l.expire(now)
	if len(l.calls) < l.limit {
		l.calls = append(l.calls, now)
		return 0
	}
	return l.calls[0].Add(l.window).Sub(now)
}

// expire drops calls that left the window (now-window, now].
func (l *RateLimiter) expire(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
