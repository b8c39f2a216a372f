// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// EncryptedPrefix marks a value as encrypted (format: ENC:base64url(nonce|ciphertext|tag))
const EncryptedPrefix = "ENC:"

// KeySize is the size of the AES-256 key (32 bytes / 256 bits)
const KeySize = 32

// PBKDF2Iterations is the iteration count for passphrase-derived keys.
// OWASP 2023 recommends 600,000+ for PBKDF2-SHA-256.
const PBKDF2Iterations = 600000

// paddingBlock is the boundary plaintexts are padded to before sealing so
// ciphertext length only reveals the plaintext length to within 32 bytes.
const paddingBlock = 32

// ZeroBytes zeros sensitive byte slices.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// =============================================================================
// DATA ENCRYPTION
// =============================================================================

// DataEncryption performs authenticated symmetric encryption of strings and
// nested maps with a single process-held key. It is safe for concurrent use.
type DataEncryption struct {
	aead cipher.AEAD
}

// GenerateKey returns a fresh random AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// DeriveKey derives an AES-256 key from a passphrase using PBKDF2-SHA-256.
func DeriveKey(passphrase string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize, sha256.New)
}

// NewDataEncryption creates an encryptor for key. A nil key generates a new
// random key, so payloads from a previous process cannot be decrypted.
func NewDataEncryption(key []byte) (*DataEncryption, error) {
	if key == nil {
		generated, err := GenerateKey()
		if err != nil {
			return nil, err
		}
		key = generated
		defer ZeroBytes(key)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &DataEncryption{aead: aead}, nil
}

// NewDataEncryptionFromPassphrase derives the key from passphrase and salt.
func NewDataEncryptionFromPassphrase(passphrase string, salt []byte) (*DataEncryption, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	if len(salt) == 0 {
		return nil, errors.New("salt must not be empty")
	}
	key := DeriveKey(passphrase, salt, PBKDF2Iterations)
	defer ZeroBytes(key)
	return NewDataEncryption(key)
}

// IsEncrypted reports whether s carries the encrypted-payload prefix.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, EncryptedPrefix)
}

// Encrypt seals plaintext and returns an ENC:-prefixed payload. The empty
// string is encrypted like any other value.
func (e *DataEncryption) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	padded := pad([]byte(plaintext))
	defer ZeroBytes(padded)

	// nonce | ciphertext | tag
	sealed := e.aead.Seal(nonce, nonce, padded, nil)
	return EncryptedPrefix + base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a payload produced by Encrypt. Malformed input returns
// ErrInvalidCiphertext; a wrong key or tampering returns ErrDecryptionFailed.
func (e *DataEncryption) Decrypt(payload string) (string, error) {
	if !IsEncrypted(payload) {
		return "", ErrInvalidCiphertext
	}

	data, err := base64.URLEncoding.DecodeString(strings.TrimPrefix(payload, EncryptedPrefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize+e.aead.Overhead()+paddingBlock {
		return "", ErrInvalidCiphertext
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	padded, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	defer ZeroBytes(padded)

	plain, err := unpad(padded)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// EncryptMap returns a copy of m with every leaf value encrypted. Nested maps
// and slices are walked; keys are left as they are. Nil leaves pass through
// and other non-string leaves are stringified first, so they come back from
// DecryptMap as strings.
func (e *DataEncryption) EncryptMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		enc, err := e.encryptValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

// DecryptMap reverses EncryptMap. A leaf that is not an encrypted string is
// rejected with ErrInvalidCiphertext.
func (e *DataEncryption) DecryptMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		dec, err := e.decryptValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = dec
	}
	return out, nil
}

func (e *DataEncryption) encryptValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return e.Encrypt(val)
	case map[string]any:
		return e.EncryptMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			enc, err := e.encryptValue(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = enc
		}
		return out, nil
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			enc, err := e.Encrypt(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = enc
		}
		return out, nil
	default:
		return e.Encrypt(fmt.Sprint(val))
	}
}

func (e *DataEncryption) decryptValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return e.Decrypt(val)
	case map[string]any:
		return e.DecryptMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			dec, err := e.decryptValue(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = dec
		}
		return out, nil
	default:
		return nil, ErrInvalidCiphertext
	}
}

// =============================================================================
// PADDING (ISO/IEC 7816-4)
// =============================================================================

func pad(b []byte) []byte {
	n := paddingBlock - len(b)%paddingBlock
	out := make([]byte, len(b)+n)
	copy(out, b)
	out[len(b)] = 0x80
	return out
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%paddingBlock != 0 {
		return nil, ErrInvalidCiphertext
	}
	for i := len(b) - 1; i >= 0 && i >= len(b)-paddingBlock; i-- {
		switch b[i] {
		case 0x00:
			continue
		case 0x80:
			return b[:i], nil
		default:
			return nil, ErrInvalidCiphertext
		}
	}
	return nil, ErrInvalidCiphertext
}
