// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Token refresh defaults.
const (
	DefaultRefreshThreshold   = 5 * time.Minute
	DefaultRefreshTimeout     = 30 * time.Second
	DefaultMinRefreshInterval = 10 * time.Second
)

// Token is a bearer token with its lifetime.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExpiredAt reports whether the token is expired at now.
func (t Token) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RefreshFunc obtains a new token. It receives the token being replaced and
// returns the new value and its lifetime.
type RefreshFunc func(ctx context.Context, current Token) (value string, expiresIn time.Duration, err error)

// =============================================================================
// TOKEN MANAGER
// =============================================================================

// TokenManager stores one bearer token and refreshes it before it expires.
//
// GetToken never returns an expired token. When the token is inside the
// refresh threshold, the calling goroutine runs the refresh callback
// (one at a time, bounded by the refresh timeout) and gets the new token.
// A failed refresh leaves the old token in place.
type TokenManager struct {
	mu    sync.Mutex
	token *Token
	gen   uint64 // bumped by SetToken and Clear

	refreshMu sync.Mutex
	refresh   RefreshFunc
	limiter   *rate.Limiter

	threshold      time.Duration
	refreshTimeout time.Duration
	minInterval    time.Duration
	now            func() time.Time

	logger  *zap.Logger
	metrics *Metrics
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithRefreshFunc registers the refresh callback.
func WithRefreshFunc(fn RefreshFunc) TokenOption {
	return func(m *TokenManager) {
		m.refresh = fn
	}
}

// WithRefreshThreshold sets how long before expiry a refresh is attempted.
func WithRefreshThreshold(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		if d >= 0 {
			m.threshold = d
		}
	}
}

// WithRefreshTimeout bounds a single refresh call.
func WithRefreshTimeout(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

// WithMinRefreshInterval sets the minimum spacing between refresh attempts.
// Zero disables throttling.
func WithMinRefreshInterval(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		if d >= 0 {
			m.minInterval = d
		}
	}
}

// WithTokenClock sets the time source. Intended for tests.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// WithTokenLogger sets the logger for refresh events.
func WithTokenLogger(l *zap.Logger) TokenOption {
	return func(m *TokenManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTokenMetrics records refresh outcomes.
func WithTokenMetrics(mt *Metrics) TokenOption {
	return func(m *TokenManager) {
		m.metrics = mt
	}
}

// NewTokenManager creates an empty token manager.
func NewTokenManager(opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		threshold:      DefaultRefreshThreshold,
		refreshTimeout: DefaultRefreshTimeout,
		minInterval:    DefaultMinRefreshInterval,
		now:            time.Now,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.minInterval > 0 {
		m.limiter = rate.NewLimiter(rate.Every(m.minInterval), 1)
	}
	return m
}

// SetRefreshFunc replaces the refresh callback.
func (m *TokenManager) SetRefreshFunc(fn RefreshFunc) {
	m.refreshMu.Lock()
	m.refresh = fn
	m.refreshMu.Unlock()
}

// SetToken stores value, valid for expiresIn from now.
func (m *TokenManager) SetToken(value string, expiresIn time.Duration) {
	now := m.now()
	m.store(&Token{Value: value, IssuedAt: now, ExpiresAt: now.Add(expiresIn)})
}

// SetJWT stores a JWT, taking its lifetime from the exp and iat claims. The
// signature is not verified; the server that issued it does that.
func (m *TokenManager) SetJWT(raw string) error {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("invalid token claims")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp == nil {
		return errors.New("token has no exp claim")
	}

	issued := m.now()
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		issued = iat.Time
	}

	t := &Token{Value: raw, IssuedAt: issued, ExpiresAt: exp.Time}
	if t.ExpiredAt(m.now()) {
		return fmt.Errorf("%w: token expired at %s", ErrNoToken, exp.Time.Format(time.RFC3339))
	}
	m.store(t)
	return nil
}

func (m *TokenManager) store(t *Token) {
	m.mu.Lock()
	m.token = t
	m.gen++
	m.mu.Unlock()
}

// Clear removes the stored token. The result of a refresh already in flight
// is discarded.
func (m *TokenManager) Clear() {
	m.mu.Lock()
	m.token = nil
	m.gen++
	m.mu.Unlock()
}

// IsValid reports whether a non-expired token is stored.
func (m *TokenManager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validLocked() != nil
}

// validLocked returns a copy of the stored token if it has not expired.
// Caller holds m.mu.
func (m *TokenManager) validLocked() *Token {
	if m.token == nil || m.token.ExpiredAt(m.now()) {
		return nil
	}
	t := *m.token
	return &t
}

func (m *TokenManager) snapshot() (*Token, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validLocked(), m.gen
}

func (m *TokenManager) needsRefresh(t *Token) bool {
	return t.ExpiresAt.Sub(m.now()) <= m.threshold
}

// GetToken returns the current token, refreshing it first when it is close to
// expiry. It returns nil when no valid token is available.
func (m *TokenManager) GetToken(ctx context.Context) *Token {
	current, _ := m.snapshot()
	if current == nil || !m.needsRefresh(current) {
		return current
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	current, gen := m.snapshot()
	if current == nil || !m.needsRefresh(current) || m.refresh == nil {
		return current
	}
	if m.limiter != nil && !m.limiter.AllowN(m.now(), 1) {
		return current
	}

	rctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	start := m.now()
	value, expiresIn, err := m.refresh(rctx, *current)
	if err == nil && (value == "" || expiresIn <= 0) {
		err = errors.New("refresh returned an empty token")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.metrics.tokenRefresh(false)
		m.logger.Warn("token refresh failed", zap.Error(err), zap.Duration("elapsed", m.now().Sub(start)))
		return m.validLocked()
	}
	m.metrics.tokenRefresh(true)

	if m.gen != gen {
		m.logger.Debug("discarding refreshed token, token changed during refresh")
		return m.validLocked()
	}

	now := m.now()
	m.token = &Token{Value: value, IssuedAt: now, ExpiresAt: now.Add(expiresIn)}
	m.gen++
	m.logger.Debug("token refreshed", zap.Time("expires_at", m.token.ExpiresAt))
	return m.validLocked()
}

// TokenSource adapts the manager to oauth2 so HTTP clients built with
// oauth2.NewClient attach the current bearer token.
func (m *TokenManager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managedTokenSource{ctx: ctx, m: m}
}

type managedTokenSource struct {
	ctx context.Context
	m   *TokenManager
}

func (s *managedTokenSource) Token() (*oauth2.Token, error) {
	t := s.m.GetToken(s.ctx)
	if t == nil {
		return nil, ErrNoToken
	}
	return &oauth2.Token{
		AccessToken: t.Value,
		TokenType:   "Bearer",
		Expiry:      t.ExpiresAt,
	}, nil
}
