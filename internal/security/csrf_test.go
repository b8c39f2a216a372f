// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRF_GenerateAndValidate(t *testing.T) {
	c := NewCSRFProtection()

	token, err := c.GenerateToken("session-a")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.True(t, c.ValidateToken("session-a", token))
	assert.False(t, c.ValidateToken("session-b", token), "token is bound to its session")
	assert.False(t, c.ValidateToken("session-a", token+"x"))
	assert.False(t, c.ValidateToken("session-a", ""))
	assert.False(t, c.ValidateToken("", token))
}

func TestCSRF_DistinctSessionsDistinctTokens(t *testing.T) {
	c := NewCSRFProtection()

	a, err := c.GenerateToken("a")
	require.NoError(t, err)
	b, err := c.GenerateToken("b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCSRF_RegenerateReplaces(t *testing.T) {
	c := NewCSRFProtection()

	first, err := c.GenerateToken("s")
	require.NoError(t, err)
	second, err := c.GenerateToken("s")
	require.NoError(t, err)

	assert.False(t, c.ValidateToken("s", first))
	assert.True(t, c.ValidateToken("s", second))
	assert.Equal(t, 1, c.Len())
}

func TestCSRF_Expiry(t *testing.T) {
	clock := newFakeClock()
	c := NewCSRFProtection(WithCSRFClock(clock.Now), WithCSRFTokenTTL(time.Minute))

	token, err := c.GenerateToken("s")
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	assert.True(t, c.ValidateToken("s", token))

	clock.Advance(time.Second)
	assert.False(t, c.ValidateToken("s", token))
	assert.Equal(t, 0, c.Len())
}

func TestCSRF_GeneratePurgesExpired(t *testing.T) {
	clock := newFakeClock()
	c := NewCSRFProtection(WithCSRFClock(clock.Now), WithCSRFTokenTTL(time.Minute))

	_, err := c.GenerateToken("old")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = c.GenerateToken("new")
	require.NoError(t, err)

	assert.Equal(t, 1, c.Len())
}

func TestCSRF_InvalidateAndClear(t *testing.T) {
	c := NewCSRFProtection()

	a, _ := c.GenerateToken("a")
	b, _ := c.GenerateToken("b")

	c.Invalidate("a")
	assert.False(t, c.ValidateToken("a", a))
	assert.True(t, c.ValidateToken("b", b))

	c.Clear()
	assert.False(t, c.ValidateToken("b", b))
}

func TestCSRF_EmptySession(t *testing.T) {
	c := NewCSRFProtection()
	_, err := c.GenerateToken("")
	require.ErrorIs(t, err, ErrEmptySessionID)
}
