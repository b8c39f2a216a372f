// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"sync"
	"time"
)

// =============================================================================
// RATE LIMITER
// =============================================================================

// RateLimiter enforces at most maxRequests per identifier in any rolling
// window. Each identifier has its own bucket and lock, so unrelated
// identifiers never contend.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time
	metrics     *Metrics

	mu      sync.RWMutex
	buckets map[string]*rateBucket
}

// rateBucket holds request timestamps, oldest first. A bucket removed from
// the map is marked dead so a caller still holding it retries.
type rateBucket struct {
	mu    sync.Mutex
	times []time.Time
	dead  bool
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) {
		r.now = now
	}
}

// WithRateLimitMetrics records allow/deny decisions.
func WithRateLimitMetrics(m *Metrics) RateLimiterOption {
	return func(r *RateLimiter) {
		r.metrics = m
	}
}

// NewRateLimiter creates a limiter. Non-positive arguments fall back to 100
// requests per minute.
func NewRateLimiter(maxRequests int, window time.Duration, opts ...RateLimiterOption) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	r := &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
		buckets:     make(map[string]*rateBucket),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxRequests returns the configured per-window limit.
func (r *RateLimiter) MaxRequests() int { return r.maxRequests }

// Window returns the configured window.
func (r *RateLimiter) Window() time.Duration { return r.window }

// getBucket returns the bucket for id, creating it if needed.
func (r *RateLimiter) getBucket(id string) *rateBucket {
	r.mu.RLock()
	b, ok := r.buckets[id]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if b, ok = r.buckets[id]; ok {
		return b
	}
	b = &rateBucket{}
	r.buckets[id] = b
	return b
}

// evict drops timestamps at least one window old. Caller holds b.mu.
func (b *rateBucket) evict(now time.Time, window time.Duration) {
	i := 0
	for i < len(b.times) && now.Sub(b.times[i]) >= window {
		i++
	}
	if i > 0 {
		b.times = append(b.times[:0], b.times[i:]...)
	}
}

// Allow reports whether a request for id is permitted and, if so, records it.
func (r *RateLimiter) Allow(id string) bool {
	var allowed bool
	for {
		b := r.getBucket(id)
		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}
		now := r.now()
		b.evict(now, r.window)
		allowed = len(b.times) < r.maxRequests
		if allowed {
			b.times = append(b.times, now)
		}
		b.mu.Unlock()
		break
	}

	r.metrics.rateLimitDecision(allowed)
	return allowed
}

// Remaining returns how many more requests id may make in the current window.
// It does not record a request.
func (r *RateLimiter) Remaining(id string) int {
	r.mu.RLock()
	b, ok := r.buckets[id]
	r.mu.RUnlock()
	if !ok {
		return r.maxRequests
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.evict(r.now(), r.window)
	if n := r.maxRequests - len(b.times); n > 0 {
		return n
	}
	return 0
}

// Reset clears the history for id.
func (r *RateLimiter) Reset(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buckets[id]; ok {
		b.kill()
		delete(r.buckets, id)
	}
}

// ResetAll clears the history for every identifier.
func (r *RateLimiter) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.buckets {
		b.kill()
	}
	r.buckets = make(map[string]*rateBucket)
}

func (b *rateBucket) kill() {
	b.mu.Lock()
	b.dead = true
	b.times = nil
	b.mu.Unlock()
}

// Prune removes buckets with no requests inside the window and returns how
// many were removed.
func (r *RateLimiter) Prune() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, b := range r.buckets {
		b.mu.Lock()
		b.evict(now, r.window)
		empty := len(b.times) == 0
		if empty {
			b.dead = true
		}
		b.mu.Unlock()
		if empty {
			delete(r.buckets, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identifiers.
func (r *RateLimiter) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buckets)
}
