// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testIterations keeps PBKDF2 fast in tests.
const testIterations = 1000

func TestPassword_HashAndVerify(t *testing.T) {
	p := NewSecurePassword(WithIterations(testIterations))

	hash1, salt1, err := p.Hash("same")
	require.NoError(t, err)
	hash2, salt2, err := p.Hash("same")
	require.NoError(t, err)

	require.Len(t, salt1, PasswordSaltSize)
	assert.NotEqual(t, salt1, salt2, "every hash gets a fresh salt")
	assert.NotEqual(t, hash1, hash2)

	assert.True(t, p.Verify("same", hash1, salt1))
	assert.True(t, p.Verify("same", hash2, salt2))
	assert.False(t, p.Verify("Same", hash1, salt1))
	assert.False(t, p.Verify("same", hash1, salt2))
	assert.False(t, p.Verify("same", "", salt1))
	assert.False(t, p.Verify("same", hash1, nil))
}

func TestPassword_IterationsMatter(t *testing.T) {
	fast := NewSecurePassword(WithIterations(testIterations))
	slower := NewSecurePassword(WithIterations(testIterations * 2))

	hash, salt, err := fast.Hash("pw")
	require.NoError(t, err)
	assert.False(t, slower.Verify("pw", hash, salt))
	assert.Equal(t, DefaultPasswordIterations, NewSecurePassword().Iterations())
}

func TestPassword_NormalizesUnicode(t *testing.T) {
	p := NewSecurePassword(WithIterations(testIterations))

	// "ﬁ" (U+FB01) is the NFKC compatibility form of "fi".
	hash, salt, err := p.Hash("ﬁre")
	require.NoError(t, err)
	assert.True(t, p.Verify("fire", hash, salt))
}

func TestPassword_Mask(t *testing.T) {
	p := NewSecurePassword()

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"a", "a"},
		{"ab", "ab"},
		{"abc", "a*c"},
		{"secret", "s****t"},
		{"pässwörd", "p******d"},
	}
	for _, tt := range tests {
		got := p.Mask(tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, len([]rune(tt.in)), len([]rune(got)))
	}
}

func TestPassword_Generate(t *testing.T) {
	p := NewSecurePassword()

	for _, n := range []int{1, 3, 4, 16, 64} {
		pw, err := p.Generate(n)
		require.NoError(t, err)
		require.Len(t, pw, n)
		for _, r := range pw {
			require.True(t, strings.ContainsRune(passwordAlphabet, r))
		}
		if n >= 4 {
			assert.True(t, hasAllClasses([]byte(pw)), "password %q missing a class", pw)
		}
	}

	a, err := p.Generate(32)
	require.NoError(t, err)
	b, err := p.Generate(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = p.Generate(0)
	require.ErrorIs(t, err, ErrInvalidLength)
	_, err = p.Generate(-5)
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestPassword_CheckStrength(t *testing.T) {
	p := NewSecurePassword(WithCommonPasswords("Campus2025!"))

	require.NoError(t, p.CheckStrength("Tr0ub4dor&3"))

	tests := []struct {
		name, password, reason string
	}{
		{"too short", "Ab1", "at least 8"},
		{"no uppercase", "lowercase123", "uppercase"},
		{"no digit", "NoDigitsHere", "digit"},
		{"common", "Password123", "commonly used"},
		{"custom common", "campus2025!", "commonly used"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.CheckStrength(tt.password)
			require.ErrorIs(t, err, ErrWeakPassword)
			assert.Contains(t, err.Error(), tt.reason)
			assert.NotContains(t, err.Error(), tt.password)
		})
	}
}

func TestPassword_MinLengthOption(t *testing.T) {
	p := NewSecurePassword(WithMinLength(12))
	err := p.CheckStrength("Short1Pass")
	require.ErrorIs(t, err, ErrWeakPassword)
	assert.Contains(t, err.Error(), "at least 12")
}
