// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by sectoolkit packages.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunesNoEllipsis: UTF-8 safe truncation
//   - RuneLen: character count
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	// Keep a filename stem within limits without splitting characters
//	stem = util.TruncateRunesNoEllipsis(stem, 50)
//
//	// Write the config file atomically with owner-only permissions
//	err := util.AtomicWriteFile(path, data, 0600)
package util
