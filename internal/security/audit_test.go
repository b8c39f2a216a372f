// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuditor_Redact(t *testing.T) {
	a := NewAuditor(nil)

	tests := []struct {
		name, input, secret string
	}{
		{"jwt", "token eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.sig-value", "eyJhbGciOiJIUzI1NiJ9"},
		{"bearer", "Authorization: Bearer abc.def-123", "abc.def-123"},
		{"password", "password=hunter2", "hunter2"},
		{"ciphertext", "payload ENC:AAAA-bbbb_cc==", "AAAA-bbbb_cc"},
		{"email", "login for ada@campus.edu", "ada@campus.edu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := a.Redact(tt.input)
			assert.NotContains(t, out, tt.secret)
			assert.Contains(t, out, "REDACTED")
		})
	}
}

func TestAuditor_CustomRedactor(t *testing.T) {
	a := NewAuditor(nil)
	a.AddRedactor(NewPatternRedactor("StudentID", regexp.MustCompile(`S\d{7}`), "[STUDENT_ID]"))
	assert.Equal(t, "id [STUDENT_ID]", a.Redact("id S1234567"))
}

func TestAuditor_Event(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := NewAuditor(zap.New(core))

	a.Event("login", "ada@campus.edu", false, map[string]string{"reason": "password=hunter2"})

	entries := logs.All()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)

	fields := entry.ContextMap()
	assert.Equal(t, "login", fields["event"])
	assert.Equal(t, false, fields["success"])
	assert.Equal(t, Fingerprint("ada@campus.edu"), fields["subject"])
	assert.NotContains(t, fields["reason"], "hunter2")
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "", Fingerprint(""))
	assert.Len(t, Fingerprint("user"), 12)
	assert.Equal(t, Fingerprint("user"), Fingerprint("user"))
	assert.NotEqual(t, Fingerprint("user"), Fingerprint("other"))
}
