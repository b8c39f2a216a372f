// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRateLimiter_FiveInTwoSeconds(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(5, 2*time.Second, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		require.True(t, rl.Allow("user"), "request %d should be allowed", i+1)
	}
	require.False(t, rl.Allow("user"), "6th request should be denied")
	require.Equal(t, 0, rl.Remaining("user"))

	clock.Advance(2 * time.Second)
	require.True(t, rl.Allow("user"), "window elapsed, request should be allowed")
	require.Equal(t, 4, rl.Remaining("user"))
}

func TestRateLimiter_BoundaryIsExpired(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(1, time.Second, WithClock(clock.Now))

	require.True(t, rl.Allow("id"))
	clock.Advance(999 * time.Millisecond)
	require.False(t, rl.Allow("id"))
	clock.Advance(time.Millisecond)
	require.True(t, rl.Allow("id"), "a timestamp exactly one window old no longer counts")
}

func TestRateLimiter_RollingWindow(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(2, 10*time.Second, WithClock(clock.Now))

	require.True(t, rl.Allow("id"))
	clock.Advance(6 * time.Second)
	require.True(t, rl.Allow("id"))
	require.False(t, rl.Allow("id"))

	// Only the first request has aged out.
	clock.Advance(4 * time.Second)
	require.True(t, rl.Allow("id"))
	require.False(t, rl.Allow("id"))
}

func TestRateLimiter_IndependentIdentifiers(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))
	require.True(t, rl.Allow("b"))
	require.Equal(t, 1, rl.Remaining("unknown"))
}

func TestRateLimiter_Reset(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	require.True(t, rl.Allow("a"))
	require.True(t, rl.Allow("b"))
	rl.Reset("a")
	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("b"))

	rl.ResetAll()
	require.True(t, rl.Allow("b"))
}

func TestRateLimiter_Prune(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(3, time.Second, WithClock(clock.Now))

	rl.Allow("old")
	clock.Advance(2 * time.Second)
	rl.Allow("fresh")

	require.Equal(t, 1, rl.Prune())
	require.Equal(t, 1, rl.Len())
	require.Equal(t, 2, rl.Remaining("fresh"))
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, 100, rl.MaxRequests())
	assert.Equal(t, time.Minute, rl.Window())
}

func TestRateLimiter_ConcurrentNeverExceedsLimit(t *testing.T) {
	rl := NewRateLimiter(50, time.Hour)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("shared") {
				allowed.Add(1)
			}
			if i%10 == 0 {
				rl.Prune()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load())
}
