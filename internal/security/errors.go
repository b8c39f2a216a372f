// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDecryption is matched by every decryption failure.
	ErrDecryption = errors.New("decryption error")
	// ErrInvalidCiphertext indicates the payload is not a well-formed ciphertext.
	ErrInvalidCiphertext = &decryptError{msg: "invalid ciphertext format"}
	// ErrDecryptionFailed indicates authentication failed (wrong key or tampered data).
	ErrDecryptionFailed = &decryptError{msg: "decryption failed: authentication tag mismatch"}

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidKey indicates an encryption key of the wrong size.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")
	// ErrInvalidLength indicates a non-positive length was requested.
	ErrInvalidLength = errors.New("length must be positive")
	// ErrEmptySessionID indicates a CSRF operation without a session.
	ErrEmptySessionID = errors.New("session id must not be empty")
	// ErrNoToken indicates no valid access token is available.
	ErrNoToken = errors.New("no valid access token")
	// ErrWeakPassword is matched by password policy failures.
	ErrWeakPassword = errors.New("password does not meet policy")
)

// decryptError is the concrete type behind the decryption sentinels so both
// of them also satisfy errors.Is(err, ErrDecryption).
type decryptError struct {
	msg string
}

func (e *decryptError) Error() string { return e.msg }

func (e *decryptError) Is(target error) bool {
	return target == ErrDecryption
}

// ValidationError reports rejected input. Reason never contains the input
// itself.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
