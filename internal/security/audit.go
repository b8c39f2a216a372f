// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// =============================================================================
// REDACTOR INTERFACE
// =============================================================================

// Redactor defines the interface for secret redaction.
type Redactor interface {
	// Redact replaces sensitive data in the input string.
	Redact(input string) string
	// Name returns the name of this redactor.
	Name() string
}

// PatternRedactor redacts text matching a regex pattern.
type PatternRedactor struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// NewPatternRedactor creates a new pattern-based redactor.
func NewPatternRedactor(name string, pattern *regexp.Regexp, replace string) *PatternRedactor {
	return &PatternRedactor{
		name:    name,
		pattern: pattern,
		replace: replace,
	}
}

// Redact replaces matches with the replacement string.
func (r *PatternRedactor) Redact(input string) string {
	return r.pattern.ReplaceAllString(input, r.replace)
}

// Name returns the redactor name.
func (r *PatternRedactor) Name() string {
	return r.name
}

// secretPatterns covers the credentials this toolkit handles.
var secretPatterns = []struct {
	name    string
	pattern *regexp.Regexp
	replace string
}{
	{"JWT", regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), "[JWT_REDACTED]"},
	{"Bearer", regexp.MustCompile(`(?i)Bearer\s+[a-zA-Z0-9\-_.~+/]+=*`), "Bearer [TOKEN_REDACTED]"},
	{"Password", regexp.MustCompile(`(?i)(password|passwd|pwd|passphrase)\s*[=:]\s*\S+`), "[PASSWORD_REDACTED]"},
	{"Encrypted", regexp.MustCompile(`ENC:[A-Za-z0-9_\-=]+`), "[CIPHERTEXT_REDACTED]"},
	{"Email", regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[EMAIL_REDACTED]"},
}

// defaultRedactors returns the default set of secret redactors.
func defaultRedactors() []Redactor {
	redactors := make([]Redactor, 0, len(secretPatterns))
	for _, sp := range secretPatterns {
		redactors = append(redactors, NewPatternRedactor(sp.name, sp.pattern, sp.replace))
	}
	return redactors
}

// Fingerprint returns a short stable digest of an identifier so log entries
// can be correlated without recording the identifier itself.
func Fingerprint(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:6])
}

// =============================================================================
// AUDITOR
// =============================================================================

// Auditor writes security events to a structured logger. Subjects are
// fingerprinted and every detail value passes through the redactors first.
type Auditor struct {
	logger *zap.Logger

	mu        sync.RWMutex
	redactors []Redactor
}

// NewAuditor creates an auditor on top of logger. A nil logger discards events.
func NewAuditor(logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{
		logger:    logger.Named("audit"),
		redactors: defaultRedactors(),
	}
}

// AddRedactor adds a custom redactor.
func (a *Auditor) AddRedactor(r Redactor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.redactors = append(a.redactors, r)
}

// Redact applies all redactors to input.
func (a *Auditor) Redact(input string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range a.redactors {
		input = r.Redact(input)
	}
	return input
}

// Event records a security event. Failures are logged at warn level.
func (a *Auditor) Event(event, subject string, success bool, details map[string]string) {
	fields := make([]zap.Field, 0, len(details)+3)
	fields = append(fields, zap.String("event", event), zap.Bool("success", success))
	if subject != "" {
		fields = append(fields, zap.String("subject", Fingerprint(subject)))
	}

	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.String(k, a.Redact(details[k])))
	}

	if success {
		a.logger.Info("security event", fields...)
	} else {
		a.logger.Warn("security event", fields...)
	}
}
