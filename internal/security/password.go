// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"github.com/bits-and-blooms/bloom/v3"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"

	"github.com/campusevents/sectoolkit/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// PasswordSaltSize is the per-hash random salt length in bytes.
	PasswordSaltSize = 16

	// passwordHashSize is the derived key length in bytes.
	passwordHashSize = 32

	// DefaultPasswordIterations is the PBKDF2-SHA-256 work factor.
	DefaultPasswordIterations = PBKDF2Iterations

	// DefaultMinPasswordLength is the shortest password CheckStrength accepts.
	DefaultMinPasswordLength = 8

	// MaskChar replaces the hidden characters of a masked password.
	MaskChar = '*'
)

// Character classes used by Generate.
const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*"
)

const passwordAlphabet = lowerChars + upperChars + digitChars + symbolChars

// commonPasswords seeds the breached-password filter.
var commonPasswords = []string{
	"123456", "123456789", "12345678", "password", "password1", "password123",
	"qwerty", "qwerty123", "abc123", "111111", "123123", "1234567890",
	"iloveyou", "admin", "admin123", "welcome", "welcome1", "letmein",
	"monkey", "dragon", "football", "baseball", "sunshine", "princess",
	"master", "shadow", "superman", "trustno1", "passw0rd", "p@ssw0rd",
	"p@ssword", "changeme", "secret", "login", "starwars", "whatever",
	"qazwsx", "zaq12wsx", "1q2w3e4r", "1qaz2wsx", "000000", "654321",
	"696969", "solo", "hello123", "freedom", "charlie", "michael",
	"jennifer", "computer", "summer2024", "winter2024", "spring2025",
	"student", "student1", "campus", "university", "college",
}

// =============================================================================
// SECURE PASSWORD
// =============================================================================

// SecurePassword hashes, verifies, masks, generates and checks passwords.
// It holds no per-call state and is safe for concurrent use.
type SecurePassword struct {
	iterations int
	minLength  int
	common     *bloom.BloomFilter
}

// PasswordOption configures a SecurePassword.
type PasswordOption func(*SecurePassword)

// WithIterations sets the PBKDF2 iteration count. Hashes are only verifiable
// with the count they were created with.
func WithIterations(n int) PasswordOption {
	return func(p *SecurePassword) {
		if n > 0 {
			p.iterations = n
		}
	}
}

// WithMinLength sets the minimum length CheckStrength enforces.
func WithMinLength(n int) PasswordOption {
	return func(p *SecurePassword) {
		if n > 0 {
			p.minLength = n
		}
	}
}

// WithCommonPasswords adds entries to the rejected-password filter.
func WithCommonPasswords(words ...string) PasswordOption {
	return func(p *SecurePassword) {
		for _, w := range words {
			p.common.AddString(strings.ToLower(w))
		}
	}
}

// NewSecurePassword creates a password helper.
func NewSecurePassword(opts ...PasswordOption) *SecurePassword {
	p := &SecurePassword{
		iterations: DefaultPasswordIterations,
		minLength:  DefaultMinPasswordLength,
		common:     bloom.NewWithEstimates(1000, 0.001),
	}
	for _, w := range commonPasswords {
		p.common.AddString(w)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Hash derives a PBKDF2-SHA-256 hash with a fresh random salt. The hash is
// base64 encoded; the salt must be stored alongside it.
func (p *SecurePassword) Hash(password string) (string, []byte, error) {
	salt := make([]byte, PasswordSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return p.derive(password, salt), salt, nil
}

// Verify reports whether password matches hash under salt. The comparison
// is constant time.
func (p *SecurePassword) Verify(password, hash string, salt []byte) bool {
	if hash == "" || len(salt) == 0 {
		return false
	}
	computed := p.derive(password, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

func (p *SecurePassword) derive(password string, salt []byte) string {
	key := pbkdf2.Key([]byte(norm.NFKC.String(password)), salt, p.iterations, passwordHashSize, sha256.New)
	defer ZeroBytes(key)
	return base64.StdEncoding.EncodeToString(key)
}

// Mask returns password with every character except the first and last
// replaced by MaskChar. Values of two characters or fewer are returned
// unchanged. The result is for display only and must never be sent anywhere
// in place of the real credential.
func (p *SecurePassword) Mask(password string) string {
	n := util.RuneLen(password)
	if n <= 2 {
		return password
	}
	runes := []rune(password)
	return string(runes[0]) + strings.Repeat(string(MaskChar), n-2) + string(runes[n-1])
}

// Generate returns a random password of exactly length characters drawn from
// upper- and lowercase letters, digits and symbols. Passwords of four or more
// characters contain every class.
func (p *SecurePassword) Generate(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("%w: got %d", ErrInvalidLength, length)
	}

	limit := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, length)
	for {
		for i := range buf {
			n, err := rand.Int(rand.Reader, limit)
			if err != nil {
				return "", fmt.Errorf("failed to generate password: %w", err)
			}
			buf[i] = passwordAlphabet[n.Int64()]
		}
		if length < 4 || hasAllClasses(buf) {
			return string(buf), nil
		}
	}
}

func hasAllClasses(b []byte) bool {
	s := string(b)
	return strings.ContainsAny(s, lowerChars) &&
		strings.ContainsAny(s, upperChars) &&
		strings.ContainsAny(s, digitChars) &&
		strings.ContainsAny(s, symbolChars)
}

// CheckStrength enforces the password policy: minimum length, at least one
// uppercase letter and one digit, and not a well-known password. The error
// wraps ErrWeakPassword and lists every failed rule.
func (p *SecurePassword) CheckStrength(password string) error {
	var problems []string

	if util.RuneLen(password) < p.minLength {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", p.minLength))
	}

	var hasUpper, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper {
		problems = append(problems, "must contain an uppercase letter")
	}
	if !hasDigit {
		problems = append(problems, "must contain a digit")
	}

	// False positives only ever reject a password, never accept one.
	if p.common.TestString(strings.ToLower(password)) {
		problems = append(problems, "is a commonly used password")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrWeakPassword, strings.Join(problems, "; "))
	}
	return nil
}

// Iterations returns the configured PBKDF2 iteration count.
func (p *SecurePassword) Iterations() int { return p.iterations }
