// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security implements the client-side security toolkit.
//
// The package provides the services the desktop client consumes before data
// leaves the process or reaches the screen:
//
//   - DataEncryption: AES-256-GCM protection for strings and nested maps
//   - RateLimiter: sliding-window request throttling per identifier
//   - SessionTimeout: idle-session expiry with warning and timeout callbacks
//   - InputSanitizer: best-effort SQL/XSS stripping, email, filename and upload checks
//   - SecurePassword: PBKDF2-SHA-256 hashing, verification, masking and generation
//   - TokenManager: bearer-token lifecycle with proactive refresh
//   - CSRFProtection: per-session anti-forgery tokens
//
// # Usage
//
// Components are normally reached through an explicit Manager built from
// configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	mgr, err := security.NewManager(cfg, security.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	if !mgr.Allow("login:" + username) {
//	    return errTooManyAttempts
//	}
//
// Each component can also be constructed on its own; all of them are safe
// for concurrent use.
//
// # Limitations
//
// The sanitizer is defense in depth only. Server-side validation and
// parameterized queries remain the primary controls. Password masking is for
// display and provides no confidentiality.
package security
