package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reflink/platform/internal/clock"
)

// RateLimiter allows up to limit calls per key in each fixed window. Keys idle for a
// full window are dropped on the next sweep, so memory follows active callers only.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     int
	window    time.Duration
	clock     clock.Clock
	lastSweep time.Time
}

type bucket struct {
	start time.Time
	count int
}

// NewRateLimiter creates a rate limiter with the given limit per window.
func NewRateLimiter(limit int, window time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &RateLimiter{
		buckets:   make(map[string]*bucket),
		limit:     limit,
		window:    window,
		clock:     clk,
		lastSweep: clk.Now(),
	}
}

// Check counts one call for key and reports whether it is within the limit.
func (rl *RateLimiter) Check(_ context.Context, key string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.sweep(now)

	b, ok := rl.buckets[key]
	if !ok || now.Sub(b.start) >= rl.window {
		rl.buckets[key] = &bucket{start: now, count: 1}
		return allow
	}
	if b.count >= rl.limit {
		return deny("rate_limiter",
			fmt.Sprintf("rate limit exceeded: %d per %s", rl.limit, rl.window),
			b.start.Add(rl.window).Sub(now))
	}
	b.count++
	return allow
}

// Len reports how many keys are tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	for k, b := range rl.buckets {
		if now.Sub(b.start) >= rl.window {
			delete(rl.buckets, k)
		}
	}
	rl.lastSweep = now
}
