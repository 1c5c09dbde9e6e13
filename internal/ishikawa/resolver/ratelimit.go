package resolver

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the maximum number of model calls allowed per
	// conversation thread per minute when no explicit limit is configured.
	DefaultRateLimit = 20

	defaultRateLimitWindow = time.Minute
)

// RateLimiter enforces a per-thread sliding-window limit on model calls.
//
// It holds the call timestamps for each thread within the current window and
// prunes stale entries on every Allow call, keeping memory bounded to
// O(limit) entries per active thread. Safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	counters map[string][]time.Time // threadID → call timestamps in window
}

// NewRateLimiter returns a RateLimiter that allows at most limit calls per
// thread within window. Non-positive arguments fall back to the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		counters: make(map[string][]time.Time),
	}
}

// Allow reports whether the thread may make another model call and records
// the current timestamp when it may.
func (r *RateLimiter) Allow(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	existing := r.counters[threadID]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= r.limit {
		r.counters[threadID] = valid
		return false
	}

	r.counters[threadID] = append(valid, now)
	return true
}

// Remaining returns how many calls the thread can still make within the
// current window.
func (r *RateLimiter) Remaining(threadID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	count := 0
	for _, t := range r.counters[threadID] {
		if t.After(cutoff) {
			count++
		}
	}
	if rem := r.limit - count; rem > 0 {
		return rem
	}
	return 0
}
