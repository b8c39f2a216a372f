// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// DefaultCSRFTokenTTL is how long a CSRF token stays valid.
const DefaultCSRFTokenTTL = time.Hour

// csrfTokenBytes is the amount of randomness in a CSRF token.
const csrfTokenBytes = 32

type csrfEntry struct {
	token     string
	expiresAt time.Time
}

// CSRFProtection issues one anti-forgery token per session and validates
// form submissions against it. Validation fails closed.
type CSRFProtection struct {
	mu      sync.Mutex
	tokens  map[string]csrfEntry
	ttl     time.Duration
	now     func() time.Time
	metrics *Metrics
}

// CSRFOption configures a CSRFProtection.
type CSRFOption func(*CSRFProtection)

// WithCSRFTokenTTL sets the token lifetime.
func WithCSRFTokenTTL(ttl time.Duration) CSRFOption {
	return func(c *CSRFProtection) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCSRFClock sets the time source. Intended for tests.
func WithCSRFClock(now func() time.Time) CSRFOption {
	return func(c *CSRFProtection) {
		c.now = now
	}
}

// WithCSRFMetrics records validation failures.
func WithCSRFMetrics(m *Metrics) CSRFOption {
	return func(c *CSRFProtection) {
		c.metrics = m
	}
}

// NewCSRFProtection creates an empty token store.
func NewCSRFProtection(opts ...CSRFOption) *CSRFProtection {
	c := &CSRFProtection{
		tokens: make(map[string]csrfEntry),
		ttl:    DefaultCSRFTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateToken issues a fresh token for sessionID, replacing any previous
// one. Expired entries for other sessions are purged on the way.
func (c *CSRFProtection) GenerateToken(sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrEmptySessionID
	}

	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate CSRF token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purgeLocked(now)
	c.tokens[sessionID] = csrfEntry{token: token, expiresAt: now.Add(c.ttl)}
	return token, nil
}

// ValidateToken reports whether token is the current, unexpired token for
// sessionID.
func (c *CSRFProtection) ValidateToken(sessionID, token string) bool {
	ok := c.validate(sessionID, token)
	if !ok {
		c.metrics.csrfRejected()
	}
	return ok
}

func (c *CSRFProtection) validate(sessionID, token string) bool {
	if sessionID == "" || token == "" {
		return false
	}

	c.mu.Lock()
	entry, found := c.tokens[sessionID]
	if found && !c.now().Before(entry.expiresAt) {
		delete(c.tokens, sessionID)
		found = false
	}
	c.mu.Unlock()

	if !found {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(entry.token), []byte(token)) == 1
}

// Invalidate removes the token for sessionID.
func (c *CSRFProtection) Invalidate(sessionID string) {
	c.mu.Lock()
	delete(c.tokens, sessionID)
	c.mu.Unlock()
}

// Clear removes every token.
func (c *CSRFProtection) Clear() {
	c.mu.Lock()
	c.tokens = make(map[string]csrfEntry)
	c.mu.Unlock()
}

// Len returns the number of stored tokens, expired ones included.
func (c *CSRFProtection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

func (c *CSRFProtection) purgeLocked(now time.Time) {
	for id, e := range c.tokens {
		if !now.Before(e.expiresAt) {
			delete(c.tokens, id)
		}
	}
}
