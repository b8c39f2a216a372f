// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for sectoolkit.
//
// Configuration file locations (in order of precedence):
//   - SECTOOLKIT_* environment variables (optionally seeded from a .env file)
//   - ~/.sectoolkit/config.toml
//   - Built-in defaults
package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete security toolkit configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Encryption EncryptionConfig `toml:"encryption" json:"encryption"`
	RateLimit  RateLimitConfig  `toml:"rate_limit" json:"rate_limit"`
	Session    SessionConfig    `toml:"session" json:"session"`
	Token      TokenConfig      `toml:"token" json:"token"`
	CSRF       CSRFConfig       `toml:"csrf" json:"csrf"`
	Upload     UploadConfig     `toml:"upload" json:"upload"`
	Password   PasswordConfig   `toml:"password" json:"password"`
	Logging    LoggingConfig    `toml:"logging" json:"logging"`
}

// EncryptionConfig configures the process-wide data encryption key.
// When both fields are empty a random key is generated at startup, which
// means encrypted payloads do not survive a restart.
type EncryptionConfig struct {
	// Key is a base64-encoded 32-byte AES-256 key.
	Key string `toml:"key" json:"key"`
	// Passphrase derives the key with PBKDF2 when Key is empty.
	Passphrase string `toml:"passphrase" json:"passphrase"`
	// Salt is the base64-encoded PBKDF2 salt used with Passphrase.
	Salt string `toml:"salt" json:"salt"`
}

// RateLimitConfig configures the fixed-window request limiter.
type RateLimitConfig struct {
	MaxRequests int `toml:"max_requests" json:"max_requests"`
	WindowSecs  int `toml:"window_secs" json:"window_secs"`
}

// Window returns the limiter window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSecs) * time.Second
}

// SessionConfig configures idle-session expiry.
type SessionConfig struct {
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	WarningSecs int `toml:"warning_secs" json:"warning_secs"`
}

// Timeout returns the idle timeout as a duration.
func (s SessionConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// Warning returns the warning lead time as a duration.
func (s SessionConfig) Warning() time.Duration {
	return time.Duration(s.WarningSecs) * time.Second
}

// TokenConfig configures bearer-token refresh behaviour.
type TokenConfig struct {
	// RefreshThresholdSecs is the time-before-expiry at which a refresh is attempted.
	RefreshThresholdSecs int `toml:"refresh_threshold_secs" json:"refresh_threshold_secs"`
	// RefreshTimeoutSecs bounds a single refresh callback invocation.
	RefreshTimeoutSecs int `toml:"refresh_timeout_secs" json:"refresh_timeout_secs"`
	// MinRefreshIntervalSecs is the minimum spacing between refresh attempts.
	MinRefreshIntervalSecs int `toml:"min_refresh_interval_secs" json:"min_refresh_interval_secs"`
}

// CSRFConfig configures anti-forgery token lifetime.
type CSRFConfig struct {
	TokenTTLSecs int `toml:"token_ttl_secs" json:"token_ttl_secs"`
}

// UploadConfig configures per-category file upload limits.
type UploadConfig struct {
	MaxImageBytes    int64 `toml:"max_image_bytes" json:"max_image_bytes"`
	MaxDocumentBytes int64 `toml:"max_document_bytes" json:"max_document_bytes"`
}

// PasswordConfig configures password hashing and policy.
type PasswordConfig struct {
	Iterations      int `toml:"iterations" json:"iterations"`
	MinLength       int `toml:"min_length" json:"min_length"`
	GeneratedLength int `toml:"generated_length" json:"generated_length"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level"`
	// Format is "json" or "console".
	Format string `toml:"format" json:"format"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// MinPasswordIterations is the lowest PBKDF2 iteration count Validate accepts.
const MinPasswordIterations = 10000

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		RateLimit: RateLimitConfig{
			MaxRequests: 100,
			WindowSecs:  60,
		},

		Session: SessionConfig{
			TimeoutSecs: 1800, // 30 minutes
			WarningSecs: 300,  // 5 minutes
		},

		Token: TokenConfig{
			RefreshThresholdSecs:   300,
			RefreshTimeoutSecs:     30,
			MinRefreshIntervalSecs: 10,
		},

		CSRF: CSRFConfig{
			TokenTTLSecs: 3600,
		},

		Upload: UploadConfig{
			MaxImageBytes:    5 * 1024 * 1024,
			MaxDocumentBytes: 10 * 1024 * 1024,
		},

		Password: PasswordConfig{
			Iterations:      600000,
			MinLength:       8,
			GeneratedLength: 16,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the sectoolkit configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".sectoolkit"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens config files to 0600 since they may hold
// the encryption key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from ~/.sectoolkit/config.toml, falling back to
// defaults when the file does not exist. A .env file in the working directory
// or the config directory seeds the environment before overrides are applied.
func Load() (*Config, error) {
	path, err := ConfigPathTOML()
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(path); statErr == nil {
		return LoadFromPath(path)
	}

	if err := LoadDotEnv(".env", filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	cfg := Default()
	return finalize(cfg)
}

// LoadFromPath loads configuration from a specific TOML file with full validation.
func LoadFromPath(path string) (*Config, error) {
	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
	}

	return finalize(cfg)
}

// LoadTOML decodes a TOML file on top of cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from each existing file into the process
// environment. Variables that are already set are left alone.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EncodeTOML renders the config as TOML.
func (c *Config) EncodeTOML() ([]byte, error) {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return []byte(b.String()), nil
}

// =============================================================================
// DEFAULTS / OVERRIDES
// =============================================================================

// SetDefaults fills zero values with defaults. Session.WarningSecs is left
// alone since zero disables the warning.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = d.RateLimit.MaxRequests
	}
	if c.RateLimit.WindowSecs == 0 {
		c.RateLimit.WindowSecs = d.RateLimit.WindowSecs
	}
	if c.Session.TimeoutSecs == 0 {
		c.Session.TimeoutSecs = d.Session.TimeoutSecs
	}
	if c.Token.RefreshThresholdSecs == 0 {
		c.Token.RefreshThresholdSecs = d.Token.RefreshThresholdSecs
	}
	if c.Token.RefreshTimeoutSecs == 0 {
		c.Token.RefreshTimeoutSecs = d.Token.RefreshTimeoutSecs
	}
	if c.CSRF.TokenTTLSecs == 0 {
		c.CSRF.TokenTTLSecs = d.CSRF.TokenTTLSecs
	}
	if c.Upload.MaxImageBytes == 0 {
		c.Upload.MaxImageBytes = d.Upload.MaxImageBytes
	}
	if c.Upload.MaxDocumentBytes == 0 {
		c.Upload.MaxDocumentBytes = d.Upload.MaxDocumentBytes
	}
	if c.Password.Iterations == 0 {
		c.Password.Iterations = d.Password.Iterations
	}
	if c.Password.MinLength == 0 {
		c.Password.MinLength = d.Password.MinLength
	}
	if c.Password.GeneratedLength == 0 {
		c.Password.GeneratedLength = d.Password.GeneratedLength
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
}

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - SECTOOLKIT_ENCRYPTION_KEY: overrides encryption.key
//   - SECTOOLKIT_ENCRYPTION_PASSPHRASE: overrides encryption.passphrase
//   - SECTOOLKIT_RATE_LIMIT_MAX: overrides rate_limit.max_requests
//   - SECTOOLKIT_RATE_LIMIT_WINDOW_SECS: overrides rate_limit.window_secs
//   - SECTOOLKIT_SESSION_TIMEOUT_SECS: overrides session.timeout_secs
//   - SECTOOLKIT_SESSION_WARNING_SECS: overrides session.warning_secs
//   - SECTOOLKIT_LOG_LEVEL: overrides logging.level
//   - SECTOOLKIT_LOG_FORMAT: overrides logging.format
//
// Malformed integers are ignored.
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("SECTOOLKIT_ENCRYPTION_KEY"); key != "" {
		c.Encryption.Key = key
	}
	if pass := os.Getenv("SECTOOLKIT_ENCRYPTION_PASSPHRASE"); pass != "" {
		c.Encryption.Passphrase = pass
	}
	envInt("SECTOOLKIT_RATE_LIMIT_MAX", &c.RateLimit.MaxRequests)
	envInt("SECTOOLKIT_RATE_LIMIT_WINDOW_SECS", &c.RateLimit.WindowSecs)
	envInt("SECTOOLKIT_SESSION_TIMEOUT_SECS", &c.Session.TimeoutSecs)
	envInt("SECTOOLKIT_SESSION_WARNING_SECS", &c.Session.WarningSecs)
	if level := os.Getenv("SECTOOLKIT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("SECTOOLKIT_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
}

func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Encryption.Key != "" {
		if _, err := c.EncryptionKey(); err != nil {
			errs = append(errs, ValidationError{Field: "encryption.key", Message: err.Error()})
		}
	}
	if c.Encryption.Salt != "" {
		if _, err := base64.StdEncoding.DecodeString(c.Encryption.Salt); err != nil {
			errs = append(errs, ValidationError{Field: "encryption.salt", Message: "must be base64"})
		}
	}

	if c.RateLimit.MaxRequests < 1 {
		errs = append(errs, ValidationError{
			Field:   "rate_limit.max_requests",
			Message: fmt.Sprintf("must be at least 1, got %d", c.RateLimit.MaxRequests),
		})
	}
	if c.RateLimit.WindowSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "rate_limit.window_secs",
			Message: fmt.Sprintf("must be at least 1, got %d", c.RateLimit.WindowSecs),
		})
	}

	if c.Session.TimeoutSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "session.timeout_secs",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Session.TimeoutSecs),
		})
	}
	if c.Session.WarningSecs < 0 || c.Session.WarningSecs >= c.Session.TimeoutSecs {
		errs = append(errs, ValidationError{
			Field:   "session.warning_secs",
			Message: fmt.Sprintf("must be between 0 and timeout_secs (%d), got %d", c.Session.TimeoutSecs, c.Session.WarningSecs),
		})
	}

	if c.Token.RefreshThresholdSecs < 0 {
		errs = append(errs, ValidationError{Field: "token.refresh_threshold_secs", Message: "must not be negative"})
	}
	if c.Token.RefreshTimeoutSecs < 1 {
		errs = append(errs, ValidationError{Field: "token.refresh_timeout_secs", Message: "must be at least 1"})
	}
	if c.Token.MinRefreshIntervalSecs < 0 {
		errs = append(errs, ValidationError{Field: "token.min_refresh_interval_secs", Message: "must not be negative"})
	}

	if c.CSRF.TokenTTLSecs < 1 {
		errs = append(errs, ValidationError{Field: "csrf.token_ttl_secs", Message: "must be at least 1"})
	}

	if c.Upload.MaxImageBytes < 1 {
		errs = append(errs, ValidationError{Field: "upload.max_image_bytes", Message: "must be positive"})
	}
	if c.Upload.MaxDocumentBytes < 1 {
		errs = append(errs, ValidationError{Field: "upload.max_document_bytes", Message: "must be positive"})
	}

	if c.Password.Iterations < MinPasswordIterations {
		errs = append(errs, ValidationError{
			Field:   "password.iterations",
			Message: fmt.Sprintf("must be at least %d, got %d", MinPasswordIterations, c.Password.Iterations),
		})
	}
	if c.Password.MinLength < 1 {
		errs = append(errs, ValidationError{Field: "password.min_length", Message: "must be at least 1"})
	}
	if c.Password.GeneratedLength < 4 {
		errs = append(errs, ValidationError{Field: "password.generated_length", Message: "must be at least 4"})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: json, console", c.Logging.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ErrKeyLength is returned when a configured key does not decode to 32 bytes.
var ErrKeyLength = errors.New("encryption key must decode to 32 bytes")

// EncryptionKey decodes the configured key. It returns nil, nil when no key is set.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.Encryption.Key == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, ErrKeyLength
	}
	return key, nil
}

// EncryptionSalt decodes the configured PBKDF2 salt.
func (c *Config) EncryptionSalt() ([]byte, error) {
	if c.Encryption.Salt == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(c.Encryption.Salt)
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a JSON rendering of the config with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Encryption.Key != "" {
		safe.Encryption.Key = "[REDACTED]"
	}
	if safe.Encryption.Passphrase != "" {
		safe.Encryption.Passphrase = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
