// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/campusevents/sectoolkit/internal/config"
	"github.com/campusevents/sectoolkit/internal/logging"
)

// =============================================================================
// MANAGER
// =============================================================================

// Manager composes the security components and is the single entry point the
// UI layer depends on. Build one at startup with NewManager and pass it to
// whatever needs it; Close releases the session timer and drops tokens.
type Manager struct {
	logger  *zap.Logger
	auditor *Auditor
	metrics *Metrics

	encryption *DataEncryption
	sanitizer  *InputSanitizer
	passwords  *SecurePassword
	limiter    atomic.Pointer[RateLimiter]
	session    *SessionTimeout
	tokens     *TokenManager
	csrf       *CSRFProtection

	cfgMu sync.RWMutex
	cfg   *config.Config

	closeOnce sync.Once
}

type managerOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	refresh    RefreshFunc
	onWarning  func(time.Duration)
	onTimeout  func()
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(o *managerOptions) {
		o.logger = l
	}
}

// WithMetrics registers the toolkit counters with reg.
func WithMetrics(reg prometheus.Registerer) ManagerOption {
	return func(o *managerOptions) {
		o.registerer = reg
	}
}

// WithTokenRefresh registers the bearer-token refresh callback.
func WithTokenRefresh(fn RefreshFunc) ManagerOption {
	return func(o *managerOptions) {
		o.refresh = fn
	}
}

// WithSessionCallbacks sets the idle warning and timeout callbacks.
func WithSessionCallbacks(onWarning func(remaining time.Duration), onTimeout func()) ManagerOption {
	return func(o *managerOptions) {
		o.onWarning = onWarning
		o.onTimeout = onTimeout
	}
}

// NewManager builds every component from cfg. A nil cfg uses config.Default().
func NewManager(cfg *config.Config, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg = cfg.Clone()

	var o managerOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrNop(o.logger)

	m := &Manager{
		logger:  logger,
		auditor: NewAuditor(logger),
		cfg:     cfg,
	}
	if o.registerer != nil {
		m.metrics = NewMetrics(o.registerer)
	}

	enc, err := newEncryptionFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	m.encryption = enc

	m.sanitizer = NewInputSanitizer(
		WithUploadLimits(cfg.Upload.MaxImageBytes, cfg.Upload.MaxDocumentBytes),
		WithSanitizerMetrics(m.metrics),
	)

	m.passwords = NewSecurePassword(
		WithIterations(cfg.Password.Iterations),
		WithMinLength(cfg.Password.MinLength),
	)

	m.limiter.Store(m.newRateLimiter(cfg))

	m.session, err = NewSessionTimeout(cfg.Session.Timeout(), cfg.Session.Warning(),
		WithWarningCallback(o.onWarning),
		WithTimeoutCallback(o.onTimeout),
		WithSessionLogger(logger),
		WithSessionMetrics(m.metrics),
	)
	if err != nil {
		return nil, err
	}

	m.tokens = NewTokenManager(
		WithRefreshFunc(o.refresh),
		WithRefreshThreshold(time.Duration(cfg.Token.RefreshThresholdSecs)*time.Second),
		WithRefreshTimeout(time.Duration(cfg.Token.RefreshTimeoutSecs)*time.Second),
		WithMinRefreshInterval(time.Duration(cfg.Token.MinRefreshIntervalSecs)*time.Second),
		WithTokenLogger(logger),
		WithTokenMetrics(m.metrics),
	)

	m.csrf = NewCSRFProtection(
		WithCSRFTokenTTL(time.Duration(cfg.CSRF.TokenTTLSecs)*time.Second),
		WithCSRFMetrics(m.metrics),
	)

	return m, nil
}

func newEncryptionFromConfig(cfg *config.Config, logger *zap.Logger) (*DataEncryption, error) {
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		defer ZeroBytes(key)
		return NewDataEncryption(key)
	}

	if cfg.Encryption.Passphrase != "" {
		salt, err := cfg.EncryptionSalt()
		if err != nil {
			return nil, fmt.Errorf("invalid encryption salt: %w", err)
		}
		if len(salt) == 0 {
			return nil, errors.New("encryption.salt is required with encryption.passphrase")
		}
		return NewDataEncryptionFromPassphrase(cfg.Encryption.Passphrase, salt)
	}

	logger.Warn("no encryption key configured, using an ephemeral key")
	return NewDataEncryption(nil)
}

func (m *Manager) newRateLimiter(cfg *config.Config) *RateLimiter {
	return NewRateLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window(), WithRateLimitMetrics(m.metrics))
}

// ApplyPolicy swaps in the rate-limit policy from a reloaded config. Request
// history starts fresh under the new limiter. Other components keep the
// settings they were built with.
func (m *Manager) ApplyPolicy(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.cfgMu.Lock()
	m.cfg = cfg.Clone()
	m.cfgMu.Unlock()

	m.limiter.Store(m.newRateLimiter(cfg))
	m.logger.Info("security policy reloaded",
		zap.Int("rate_limit_max", cfg.RateLimit.MaxRequests),
		zap.Duration("rate_limit_window", cfg.RateLimit.Window()))
	return nil
}

// WatchPolicy reloads the config file at path on every change and applies it
// with ApplyPolicy. A file that fails to load or validate is logged and the
// current policy stays. Blocks until ctx is cancelled.
func (m *Manager) WatchPolicy(ctx context.Context, path string) error {
	return config.Watch(ctx, path,
		func(cfg *config.Config) {
			if err := m.ApplyPolicy(cfg); err != nil {
				m.logger.Warn("rejected reloaded policy", zap.Error(err))
			}
		},
		func(err error) {
			m.logger.Warn("policy reload failed", zap.String("path", path), zap.Error(err))
		})
}

// Config returns a copy of the active configuration.
func (m *Manager) Config() *config.Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg.Clone()
}

// Close stops the session timer and clears tokens. It is safe to call more
// than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.session.Stop()
		m.tokens.Clear()
		m.csrf.Clear()
	})
	return nil
}

// =============================================================================
// ENCRYPTION
// =============================================================================

// Encrypt encrypts plaintext with the process key.
func (m *Manager) Encrypt(plaintext string) (string, error) {
	return m.encryption.Encrypt(plaintext)
}

// Decrypt decrypts a payload produced by Encrypt.
func (m *Manager) Decrypt(payload string) (string, error) {
	plain, err := m.encryption.Decrypt(payload)
	if err != nil {
		m.metrics.decryptFailed()
		m.auditor.Event("decrypt", "", false, map[string]string{"error": err.Error()})
	}
	return plain, err
}

// EncryptMap encrypts every leaf of data.
func (m *Manager) EncryptMap(data map[string]any) (map[string]any, error) {
	return m.encryption.EncryptMap(data)
}

// DecryptMap decrypts every leaf of data.
func (m *Manager) DecryptMap(data map[string]any) (map[string]any, error) {
	out, err := m.encryption.DecryptMap(data)
	if err != nil {
		m.metrics.decryptFailed()
		m.auditor.Event("decrypt_map", "", false, map[string]string{"error": err.Error()})
	}
	return out, err
}

// =============================================================================
// RATE LIMITING
// =============================================================================

// Allow reports whether a request for id is permitted under the rate limit.
func (m *Manager) Allow(id string) bool {
	allowed := m.limiter.Load().Allow(id)
	if !allowed {
		m.auditor.Event("rate_limited", id, false, nil)
	}
	return allowed
}

// RemainingRequests returns how many requests id has left in the window.
func (m *Manager) RemainingRequests(id string) int {
	return m.limiter.Load().Remaining(id)
}

// ResetRateLimit clears the request history for id.
func (m *Manager) ResetRateLimit(id string) {
	m.limiter.Load().Reset(id)
}

// PruneRateLimits drops idle rate-limit buckets.
func (m *Manager) PruneRateLimits() int {
	return m.limiter.Load().Prune()
}

// =============================================================================
// SESSION
// =============================================================================

// StartSession starts the idle timer.
func (m *Manager) StartSession() {
	m.session.Start()
	m.auditor.Event("session_start", "", true, nil)
}

// RefreshSession records user activity.
func (m *Manager) RefreshSession() { m.session.Refresh() }

// PauseSession suspends the idle countdown.
func (m *Manager) PauseSession() { m.session.Pause() }

// ResumeSession continues the idle countdown.
func (m *Manager) ResumeSession() { m.session.Resume() }

// StopSession stops the idle timer; no callback fires afterwards.
func (m *Manager) StopSession() {
	m.session.Stop()
	m.auditor.Event("session_stop", "", true, nil)
}

// SessionRemaining returns the time left before the session times out.
func (m *Manager) SessionRemaining() time.Duration { return m.session.Remaining() }

// SessionState returns the idle timer state.
func (m *Manager) SessionState() SessionState { return m.session.State() }

// OnSessionWarning replaces the idle warning callback.
func (m *Manager) OnSessionWarning(fn func(remaining time.Duration)) { m.session.OnWarning(fn) }

// OnSessionTimeout replaces the idle timeout callback.
func (m *Manager) OnSessionTimeout(fn func()) { m.session.OnTimeout(fn) }

// =============================================================================
// INPUT SANITIZATION
// =============================================================================

// SanitizeString neutralizes SQL and script fragments in text.
func (m *Manager) SanitizeString(text string) string { return m.sanitizer.SanitizeString(text) }

// SanitizeStringWith is SanitizeString with options.
func (m *Manager) SanitizeStringWith(text string, opts SanitizeOptions) string {
	return m.sanitizer.SanitizeStringWith(text, opts)
}

// SanitizeEmail validates an email address.
func (m *Manager) SanitizeEmail(email string) (string, error) { return m.sanitizer.SanitizeEmail(email) }

// SanitizeFilename returns a safe bare file name.
func (m *Manager) SanitizeFilename(name string) string { return m.sanitizer.SanitizeFilename(name) }

// ValidateFileUpload checks an upload against the category policy.
func (m *Manager) ValidateFileUpload(path string, category UploadCategory) error {
	err := m.sanitizer.ValidateFileUpload(path, category)
	if err != nil {
		m.auditor.Event("upload_rejected", "", false, map[string]string{
			"category": string(category),
			"reason":   err.Error(),
		})
	}
	return err
}

// SanitizeMap sanitizes every string in data except under excludeKeys.
func (m *Manager) SanitizeMap(data map[string]any, excludeKeys ...string) map[string]any {
	return m.sanitizer.SanitizeMap(data, excludeKeys...)
}

// =============================================================================
// PASSWORDS
// =============================================================================

// HashPassword hashes password with a fresh salt.
func (m *Manager) HashPassword(password string) (string, []byte, error) {
	return m.passwords.Hash(password)
}

// VerifyPassword checks password against a stored hash and salt.
func (m *Manager) VerifyPassword(password, hash string, salt []byte) bool {
	return m.passwords.Verify(password, hash, salt)
}

// MaskPassword returns a display-only masked form of password.
func (m *Manager) MaskPassword(password string) string { return m.passwords.Mask(password) }

// GeneratePassword returns a random password. A non-positive length uses the
// configured default.
func (m *Manager) GeneratePassword(length int) (string, error) {
	if length <= 0 {
		length = m.Config().Password.GeneratedLength
	}
	return m.passwords.Generate(length)
}

// CheckPasswordStrength enforces the password policy.
func (m *Manager) CheckPasswordStrength(password string) error {
	return m.passwords.CheckStrength(password)
}

// =============================================================================
// TOKENS
// =============================================================================

// SetToken stores a bearer token valid for expiresIn.
func (m *Manager) SetToken(value string, expiresIn time.Duration) { m.tokens.SetToken(value, expiresIn) }

// SetJWT stores a JWT using its own expiry claims.
func (m *Manager) SetJWT(raw string) error { return m.tokens.SetJWT(raw) }

// GetToken returns the current token, refreshing it when close to expiry.
func (m *Manager) GetToken(ctx context.Context) *Token { return m.tokens.GetToken(ctx) }

// IsTokenValid reports whether a non-expired token is stored.
func (m *Manager) IsTokenValid() bool { return m.tokens.IsValid() }

// ClearToken drops the stored token.
func (m *Manager) ClearToken() { m.tokens.Clear() }

// SetTokenRefresh replaces the token refresh callback.
func (m *Manager) SetTokenRefresh(fn RefreshFunc) { m.tokens.SetRefreshFunc(fn) }

// TokenSource returns an oauth2.TokenSource backed by the token manager.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource { return m.tokens.TokenSource(ctx) }

// =============================================================================
// CSRF
// =============================================================================

// GenerateCSRFToken issues a fresh anti-forgery token for sessionID.
func (m *Manager) GenerateCSRFToken(sessionID string) (string, error) {
	return m.csrf.GenerateToken(sessionID)
}

// ValidateCSRFToken checks a submitted token against sessionID.
func (m *Manager) ValidateCSRFToken(sessionID, token string) bool {
	ok := m.csrf.ValidateToken(sessionID, token)
	if !ok {
		m.auditor.Event("csrf_rejected", sessionID, false, nil)
	}
	return ok
}

// InvalidateCSRFToken removes the token for sessionID.
func (m *Manager) InvalidateCSRFToken(sessionID string) { m.csrf.Invalidate(sessionID) }
