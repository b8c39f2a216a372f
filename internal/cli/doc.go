// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the sectoolkit command line.
//
// Each command builds a security.Manager from the loaded config, runs one
// operation and prints the result, either as text or, with --json, as a
// JSONResponse envelope.
//
// # Usage
//
//	cmd, args := cli.Parse()
//	os.Exit(cli.Run(cmd, args))
//
// # Commands Overview
//
//   - password: hash, verify, generate, mask, check
//   - sanitize: string, email, filename, upload
//   - encrypt / decrypt: AES-256-GCM payloads, keygen
//   - config: show, path, init
//   - version, help
//
// # Exit Codes
//
// 0 success, 1 general, 2 usage, 3 config, 4 password mismatch,
// 6 rejected input or failed decryption, 7 not found.
package cli
