// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// KEY DERIVATION TESTS
// =============================================================================

func TestEncryption_KeyDerivation(t *testing.T) {
	salt := []byte("test_salt_value!")

	key1 := DeriveKey("testpassword123", salt, 1000)
	key2 := DeriveKey("testpassword123", salt, 1000)
	require.True(t, bytes.Equal(key1, key2), "Same password/salt should derive same key")
	require.Len(t, key1, KeySize)

	key3 := DeriveKey("testpassword123", []byte("different_salt!!"), 1000)
	require.False(t, bytes.Equal(key1, key3), "Different salt should derive different key")
}

func TestEncryption_NewDataEncryptionKeySize(t *testing.T) {
	_, err := NewDataEncryption(make([]byte, 16))
	require.ErrorIs(t, err, ErrInvalidKey)

	enc, err := NewDataEncryption(nil)
	require.NoError(t, err)
	require.NotNil(t, enc)
}

func TestEncryption_FromPassphrase(t *testing.T) {
	salt := []byte("0123456789abcdef")
	a, err := NewDataEncryptionFromPassphrase("correct horse", salt)
	require.NoError(t, err)
	b, err := NewDataEncryptionFromPassphrase("correct horse", salt)
	require.NoError(t, err)

	payload, err := a.Encrypt("shared")
	require.NoError(t, err)
	plain, err := b.Decrypt(payload)
	require.NoError(t, err)
	require.Equal(t, "shared", plain)

	_, err = NewDataEncryptionFromPassphrase("", salt)
	require.Error(t, err)
	_, err = NewDataEncryptionFromPassphrase("pass", nil)
	require.Error(t, err)
}

// =============================================================================
// ROUND-TRIP TESTS
// =============================================================================

func TestEncryption_RoundTrip(t *testing.T) {
	enc, err := NewDataEncryption(nil)
	require.NoError(t, err)

	inputs := []string{
		"",
		"sensitive data",
		"ünïcödé ✓ 日本語",
		strings.Repeat("x", 31),
		strings.Repeat("x", 32),
		strings.Repeat("x", 33),
		"trailing nul\x00",
	}
	for _, in := range inputs {
		payload, err := enc.Encrypt(in)
		require.NoError(t, err)
		require.True(t, IsEncrypted(payload))
		require.NotContains(t, payload, "sensitive")

		out, err := enc.Decrypt(payload)
		require.NoError(t, err)
		require.Equal(t, in, out)
	}
}

func TestEncryption_NonceUniqueness(t *testing.T) {
	enc, err := NewDataEncryption(nil)
	require.NoError(t, err)

	a, err := enc.Encrypt("same")
	require.NoError(t, err)
	b, err := enc.Encrypt("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b, "Random nonces should give distinct payloads")
}

func TestEncryption_PaddingHidesLength(t *testing.T) {
	enc, err := NewDataEncryption(nil)
	require.NoError(t, err)

	short, err := enc.Encrypt("a")
	require.NoError(t, err)
	longer, err := enc.Encrypt("abcdefghijklmnopqrstuvwxyz")
	require.NoError(t, err)
	require.Equal(t, len(short), len(longer))
}

// =============================================================================
// FAILURE TESTS
// =============================================================================

func TestEncryption_WrongKey(t *testing.T) {
	a, err := NewDataEncryption(nil)
	require.NoError(t, err)
	b, err := NewDataEncryption(nil)
	require.NoError(t, err)

	payload, err := a.Encrypt("secret")
	require.NoError(t, err)

	_, err = b.Decrypt(payload)
	require.ErrorIs(t, err, ErrDecryptionFailed)
	require.ErrorIs(t, err, ErrDecryption)

	// The failure must not disturb the original key.
	plain, err := a.Decrypt(payload)
	require.NoError(t, err)
	require.Equal(t, "secret", plain)
}

func TestEncryption_Tampered(t *testing.T) {
	enc, err := NewDataEncryption(nil)
	require.NoError(t, err)

	payload, err := enc.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(strings.TrimPrefix(payload, EncryptedPrefix))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	tampered := EncryptedPrefix + base64.URLEncoding.EncodeToString(raw)

	_, err = enc.Decrypt(tampered)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEncryption_Malformed(t *testing.T) {
	enc, err := NewDataEncryption(nil)
	require.NoError(t, err)

	for _, in := range []string{"", "plaintext", "ENC:", "ENC:!!!notbase64", "ENC:" + base64.URLEncoding.EncodeToString([]byte("short"))} {
		_, err := enc.Decrypt(in)
		require.ErrorIs(t, err, ErrInvalidCiphertext, "input %q", in)
		require.True(t, errors.Is(err, ErrDecryption))
	}
}

func TestUnpad_RejectsBadPadding(t *testing.T) {
	_, err := unpad(make([]byte, paddingBlock))
	require.ErrorIs(t, err, ErrInvalidCiphertext)

	block := make([]byte, paddingBlock)
	block[paddingBlock-1] = 0x01
	_, err = unpad(block)
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

// =============================================================================
// MAP TESTS
// =============================================================================

func TestEncryption_MapRoundTrip(t *testing.T) {
	enc, err := NewDataEncryption(nil)
	require.NoError(t, err)

	in := map[string]any{
		"name":  "Ada",
		"age":   36,
		"admin": true,
		"note":  nil,
		"profile": map[string]any{
			"email": "ada@example.com",
			"tags":  []any{"a", 2, nil},
		},
		"aliases": []string{"countess"},
	}

	sealed, err := enc.EncryptMap(in)
	require.NoError(t, err)
	assert.ElementsMatch(t, keys(in), keys(sealed))
	assert.True(t, IsEncrypted(sealed["name"].(string)))
	assert.Nil(t, sealed["note"])
	assert.ElementsMatch(t, keys(in["profile"].(map[string]any)), keys(sealed["profile"].(map[string]any)))

	opened, err := enc.DecryptMap(sealed)
	require.NoError(t, err)
	assert.Equal(t, "Ada", opened["name"])
	assert.Equal(t, "36", opened["age"])
	assert.Equal(t, "true", opened["admin"])
	assert.Nil(t, opened["note"])
	profile := opened["profile"].(map[string]any)
	assert.Equal(t, "ada@example.com", profile["email"])
	assert.Equal(t, []any{"a", "2", nil}, profile["tags"])
	assert.Equal(t, []any{"countess"}, opened["aliases"])
}

func TestEncryption_DecryptMapRejectsPlainLeaf(t *testing.T) {
	enc, err := NewDataEncryption(nil)
	require.NoError(t, err)

	_, err = enc.DecryptMap(map[string]any{"n": 5})
	require.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = enc.DecryptMap(map[string]any{"s": "not encrypted"})
	require.ErrorIs(t, err, ErrDecryption)

	out, err := enc.DecryptMap(nil)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestEncryption_Concurrent(t *testing.T) {
	enc, err := NewDataEncryption(nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, err := enc.Encrypt("concurrent")
			if !assert.NoError(t, err) {
				return
			}
			plain, err := enc.Decrypt(payload)
			assert.NoError(t, err)
			assert.Equal(t, "concurrent", plain)
		}()
	}
	wg.Wait()
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
