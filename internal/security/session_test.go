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
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestSession(t *testing.T, timeout, warning time.Duration) (*SessionTimeout, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	var warnings, timeouts atomic.Int32
	s, err := NewSessionTimeout(timeout, warning,
		WithWarningCallback(func(time.Duration) { warnings.Add(1) }),
		WithTimeoutCallback(func() { timeouts.Add(1) }),
	)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s, &warnings, &timeouts
}

func TestSessionTimeout_InvalidDurations(t *testing.T) {
	_, err := NewSessionTimeout(0, 0)
	require.Error(t, err)
	_, err = NewSessionTimeout(time.Second, time.Second)
	require.Error(t, err)
	_, err = NewSessionTimeout(time.Second, -time.Millisecond)
	require.Error(t, err)
}

func TestSessionTimeout_StateString(t *testing.T) {
	assert.Equal(t, "STOPPED", SessionStopped.String())
	assert.Equal(t, "RUNNING", SessionRunning.String())
	assert.Equal(t, "PAUSED", SessionPaused.String())
	assert.Equal(t, "TIMED_OUT", SessionTimedOut.String())
	assert.Equal(t, "UNKNOWN", SessionState(99).String())
}

func TestSessionTimeout_WarningThenTimeout(t *testing.T) {
	s, warnings, timeouts := newTestSession(t, 150*time.Millisecond, 100*time.Millisecond)

	s.Start()
	require.Equal(t, SessionRunning, s.State())
	require.True(t, s.IsActive())

	require.Eventually(t, func() bool { return warnings.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return timeouts.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.Equal(t, SessionTimedOut, s.State())
	require.False(t, s.IsActive())
	require.Equal(t, time.Duration(0), s.Remaining())

	// Terminal until Start: no repeat callbacks, Refresh does nothing.
	s.Refresh()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), warnings.Load())
	assert.Equal(t, int32(1), timeouts.Load())
	assert.Equal(t, SessionTimedOut, s.State())
}

func TestSessionTimeout_RefreshResetsRemaining(t *testing.T) {
	s, _, timeouts := newTestSession(t, 300*time.Millisecond, 0)

	s.Start()
	time.Sleep(150 * time.Millisecond)
	require.Less(t, s.Remaining(), 200*time.Millisecond)

	s.Refresh()
	require.Greater(t, s.Remaining(), 250*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int32(0), timeouts.Load(), "refresh should have postponed the timeout")
	require.Eventually(t, func() bool { return timeouts.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSessionTimeout_StopPreventsCallbacks(t *testing.T) {
	s, warnings, timeouts := newTestSession(t, 100*time.Millisecond, 50*time.Millisecond)

	s.Start()
	s.Stop()
	s.Stop() // idempotent

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), warnings.Load())
	assert.Equal(t, int32(0), timeouts.Load())
	assert.Equal(t, SessionStopped, s.State())
	assert.Equal(t, time.Duration(0), s.Remaining())
}

func TestSessionTimeout_StopDuringDispatch(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	// Block the timeout dispatch between the expiry decision and the callback.
	core, _ := observer.New(zapcore.InfoLevel)
	logger := zap.New(core, zap.Hooks(func(e zapcore.Entry) error {
		if e.Message == "session timed out" {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	}))

	var timeouts atomic.Int32
	s, err := NewSessionTimeout(30*time.Millisecond, 0,
		WithSessionLogger(logger),
		WithTimeoutCallback(func() { timeouts.Add(1) }),
	)
	require.NoError(t, err)

	s.Start()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("timeout was not dispatched")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	require.Eventually(t, func() bool { return s.State() == SessionStopped }, time.Second, time.Millisecond)

	select {
	case <-stopped:
		t.Fatal("Stop returned while a dispatch was pending")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), timeouts.Load())
}

func TestSessionTimeout_PauseFreezesRemaining(t *testing.T) {
	s, _, timeouts := newTestSession(t, 200*time.Millisecond, 0)

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Pause()
	require.Equal(t, SessionPaused, s.State())
	require.True(t, s.IsActive())

	frozen := s.Remaining()
	time.Sleep(250 * time.Millisecond)
	require.Equal(t, frozen, s.Remaining())
	require.Equal(t, int32(0), timeouts.Load())

	s.Resume()
	require.Equal(t, SessionRunning, s.State())
	require.LessOrEqual(t, s.Remaining(), frozen)
	require.Eventually(t, func() bool { return timeouts.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSessionTimeout_WarningOncePerIdlePeriod(t *testing.T) {
	s, warnings, _ := newTestSession(t, 400*time.Millisecond, 350*time.Millisecond)

	s.Start()
	require.Eventually(t, func() bool { return warnings.Load() == 1 }, time.Second, 5*time.Millisecond)

	// A new idle period after activity may warn again.
	s.Refresh()
	require.Eventually(t, func() bool { return warnings.Load() == 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestSessionTimeout_StopFromCallback(t *testing.T) {
	var s *SessionTimeout
	done := make(chan struct{})
	s, err := NewSessionTimeout(50*time.Millisecond, 0, WithTimeoutCallback(func() {
		s.Stop()
		close(done)
	}))
	require.NoError(t, err)

	s.Start()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout callback did not run")
	}
	assert.Equal(t, SessionStopped, s.State())
}

func TestSessionTimeout_RestartAfterTimeout(t *testing.T) {
	s, _, timeouts := newTestSession(t, 50*time.Millisecond, 0)

	s.Start()
	require.Eventually(t, func() bool { return timeouts.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.Start()
	require.Equal(t, SessionRunning, s.State())
	require.Eventually(t, func() bool { return timeouts.Load() == 2 }, time.Second, 5*time.Millisecond)
}
