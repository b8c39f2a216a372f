// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Idle-timeout defaults.
const (
	// DefaultSessionTimeout is the idle time after which a session times out.
	DefaultSessionTimeout = 30 * time.Minute

	// DefaultWarningBefore is how long before the timeout the warning fires.
	DefaultWarningBefore = 5 * time.Minute
)

// SessionState represents the current state of an idle timer.
type SessionState int

const (
	// SessionStopped indicates the timer is not running.
	SessionStopped SessionState = iota
	// SessionRunning indicates the countdown is in progress.
	SessionRunning
	// SessionPaused indicates the countdown is suspended.
	SessionPaused
	// SessionTimedOut indicates the timeout fired. Only Start leaves this state.
	SessionTimedOut
)

// String returns a string representation of the SessionState.
func (s SessionState) String() string {
	switch s {
	case SessionStopped:
		return "STOPPED"
	case SessionRunning:
		return "RUNNING"
	case SessionPaused:
		return "PAUSED"
	case SessionTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// =============================================================================
// SESSION TIMEOUT
// =============================================================================

// SessionTimeout is an idle-timeout state machine. The warning callback fires
// once per idle period, timeout - warning after the last activity; the
// timeout callback fires once, after which the session stays timed out until
// Start is called again.
//
// Every state change bumps a generation counter and stops the scheduled
// timers. A timer only acts if its generation is still current. Dispatch is
// serialized by dispatchMu and the generation is checked again right before
// the callback runs; Stop waits for any dispatch that has not yet reached its
// callback, so no callback starts once Stop has returned. Callbacks run
// outside s.mu and may call back into the SessionTimeout, including Stop.
type SessionTimeout struct {
	mu         sync.Mutex
	dispatchMu sync.Mutex

	id      string
	timeout time.Duration
	warning time.Duration

	onWarning func(remaining time.Duration)
	onTimeout func()

	state        SessionState
	lastActivity time.Time
	pausedIdle   time.Duration // idle time frozen by Pause
	warned       bool

	gen          uint64
	inCallback   bool
	warningTimer *time.Timer
	expireTimer  *time.Timer

	logger  *zap.Logger
	metrics *Metrics
}

// SessionOption configures a SessionTimeout.
type SessionOption func(*SessionTimeout)

// WithWarningCallback sets the function called when the warning point is reached.
func WithWarningCallback(fn func(remaining time.Duration)) SessionOption {
	return func(s *SessionTimeout) {
		s.onWarning = fn
	}
}

// WithTimeoutCallback sets the function called when the session times out.
func WithTimeoutCallback(fn func()) SessionOption {
	return func(s *SessionTimeout) {
		s.onTimeout = fn
	}
}

// WithSessionLogger sets the logger for session events.
func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(s *SessionTimeout) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSessionMetrics records timeouts.
func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *SessionTimeout) {
		s.metrics = m
	}
}

// NewSessionTimeout creates a stopped idle timer. warning must be smaller
// than timeout; zero disables the warning.
func NewSessionTimeout(timeout, warning time.Duration, opts ...SessionOption) (*SessionTimeout, error) {
	if timeout <= 0 {
		return nil, errors.New("session timeout must be positive")
	}
	if warning < 0 || warning >= timeout {
		return nil, fmt.Errorf("session warning (%v) must be between 0 and the timeout (%v)", warning, timeout)
	}

	s := &SessionTimeout{
		id:      uuid.NewString(),
		timeout: timeout,
		warning: warning,
		state:   SessionStopped,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session_timer", s.id))
	return s, nil
}

// OnWarning replaces the warning callback.
func (s *SessionTimeout) OnWarning(fn func(remaining time.Duration)) {
	s.mu.Lock()
	s.onWarning = fn
	s.mu.Unlock()
}

// OnTimeout replaces the timeout callback.
func (s *SessionTimeout) OnTimeout(fn func()) {
	s.mu.Lock()
	s.onTimeout = fn
	s.mu.Unlock()
}

// Start begins a new idle period from any state.
func (s *SessionTimeout) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelTimersLocked()
	s.state = SessionRunning
	s.lastActivity = time.Now()
	s.pausedIdle = 0
	s.warned = false
	s.scheduleLocked(0)

	s.logger.Debug("session timer started", zap.Duration("timeout", s.timeout))
}

// Refresh records user activity and restarts the idle period. It has no
// effect on a stopped or timed-out session. A paused session stays paused
// with its idle time reset.
func (s *SessionTimeout) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionRunning:
		s.cancelTimersLocked()
		s.lastActivity = time.Now()
		s.warned = false
		s.scheduleLocked(0)
	case SessionPaused:
		s.pausedIdle = 0
		s.warned = false
	}
}

// Pause suspends the countdown, keeping the idle time accumulated so far.
func (s *SessionTimeout) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionRunning {
		return
	}
	s.cancelTimersLocked()
	s.pausedIdle = time.Since(s.lastActivity)
	s.state = SessionPaused
	s.logger.Debug("session timer paused", zap.Duration("idle", s.pausedIdle))
}

// Resume continues a paused countdown from where it stopped.
func (s *SessionTimeout) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionPaused {
		return
	}
	s.state = SessionRunning
	s.lastActivity = time.Now().Add(-s.pausedIdle)
	s.scheduleLocked(s.pausedIdle)
	s.pausedIdle = 0
	s.logger.Debug("session timer resumed")
}

// Stop cancels the countdown. It is idempotent, and no callback is
// dispatched after it returns.
func (s *SessionTimeout) Stop() {
	s.mu.Lock()
	if s.state == SessionStopped {
		s.mu.Unlock()
		return
	}
	s.cancelTimersLocked()
	s.state = SessionStopped
	s.pausedIdle = 0
	inCallback := s.inCallback
	s.mu.Unlock()

	s.logger.Debug("session timer stopped")

	// A running callback started before Stop and may be the caller. Any
	// other dispatch sees the new generation once it gets dispatchMu.
	if !inCallback {
		s.dispatchMu.Lock()
		s.dispatchMu.Unlock()
	}
}

// Remaining returns the time left before timeout. While paused it returns
// the frozen value; when stopped or timed out it returns zero.
func (s *SessionTimeout) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idle time.Duration
	switch s.state {
	case SessionRunning:
		idle = time.Since(s.lastActivity)
	case SessionPaused:
		idle = s.pausedIdle
	default:
		return 0
	}
	if remaining := s.timeout - idle; remaining > 0 {
		return remaining
	}
	return 0
}

// State returns the current state.
func (s *SessionTimeout) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive reports whether the session is running or paused.
func (s *SessionTimeout) IsActive() bool {
	st := s.State()
	return st == SessionRunning || st == SessionPaused
}

// Timeout returns the configured idle timeout.
func (s *SessionTimeout) Timeout() time.Duration { return s.timeout }

// Warning returns the configured warning lead time.
func (s *SessionTimeout) Warning() time.Duration { return s.warning }

// cancelTimersLocked invalidates every scheduled timer. Caller holds s.mu.
func (s *SessionTimeout) cancelTimersLocked() {
	s.gen++
	if s.warningTimer != nil {
		s.warningTimer.Stop()
		s.warningTimer = nil
	}
	if s.expireTimer != nil {
		s.expireTimer.Stop()
		s.expireTimer = nil
	}
}

// scheduleLocked arms the timers for an idle period that has already run for
// idle. Caller holds s.mu.
func (s *SessionTimeout) scheduleLocked(idle time.Duration) {
	gen := s.gen

	if s.warning > 0 && !s.warned {
		delay := s.timeout - s.warning - idle
		if delay < 0 {
			delay = 0
		}
		s.warningTimer = time.AfterFunc(delay, func() { s.fireWarning(gen) })
	}

	delay := s.timeout - idle
	if delay < 0 {
		delay = 0
	}
	s.expireTimer = time.AfterFunc(delay, func() { s.fireTimeout(gen) })
}

func (s *SessionTimeout) fireWarning(gen uint64) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if gen != s.gen || s.state != SessionRunning || s.warned {
		s.mu.Unlock()
		return
	}
	s.warned = true
	remaining := s.timeout - time.Since(s.lastActivity)
	if remaining < 0 {
		remaining = 0
	}
	s.mu.Unlock()

	s.logger.Info("session timeout warning", zap.Duration("remaining", remaining))

	s.mu.Lock()
	callback := s.onWarning
	if gen != s.gen || callback == nil {
		s.mu.Unlock()
		return
	}
	s.runCallbackLocked(func() { callback(remaining) })
}

func (s *SessionTimeout) fireTimeout(gen uint64) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if gen != s.gen || s.state != SessionRunning {
		s.mu.Unlock()
		return
	}
	s.cancelTimersLocked()
	gen = s.gen
	s.state = SessionTimedOut
	s.mu.Unlock()

	s.logger.Info("session timed out", zap.Duration("timeout", s.timeout))
	s.metrics.sessionTimedOut()

	s.mu.Lock()
	callback := s.onTimeout
	if gen != s.gen || callback == nil {
		s.mu.Unlock()
		return
	}
	s.runCallbackLocked(callback)
}

// runCallbackLocked marks the session as inside a callback, releases s.mu
// and runs fn. Caller holds s.mu and dispatchMu.
func (s *SessionTimeout) runCallbackLocked(fn func()) {
	s.inCallback = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inCallback = false
		s.mu.Unlock()
	}()
	fn()
}
