// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for sectoolkit.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - RateLimitConfig, SessionConfig, TokenConfig: Component policies
//   - UploadConfig, PasswordConfig: Input and credential policies
//   - LoggingConfig: Structured logger settings
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SECTOOLKIT_*), optionally seeded from .env
//   - ~/.sectoolkit/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Reload on change:
//
//	go manager.WatchPolicy(ctx, path)
package config
