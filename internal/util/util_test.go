// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, AtomicWriteFile(path, []byte("hello"), 0600))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestAtomicWriteFile_CreatesPrivateParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "deep")
	path := filepath.Join(dir, "file")

	require.NoError(t, AtomicWriteFile(path, []byte("x"), 0600))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.Equal(t, DefaultDirPerm, info.Mode().Perm())
	}
}

func TestAtomicWriteFile_OverwritesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")

	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0600))
	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0600))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAtomicWriteFileWithDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "file")
	require.NoError(t, AtomicWriteFileWithDir(path, nil, 0644, 0755))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, content)
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestTruncateRunesNoEllipsis(t *testing.T) {
	assert.Equal(t, "hello", TruncateRunesNoEllipsis("hello world", 5))
	assert.Equal(t, "hi", TruncateRunesNoEllipsis("hi", 5))
	assert.Equal(t, "", TruncateRunesNoEllipsis("hello", 0))
	assert.Equal(t, "日本", TruncateRunesNoEllipsis("日本語", 2))
}

func TestRuneLen(t *testing.T) {
	assert.Equal(t, 0, RuneLen(""))
	assert.Equal(t, 5, RuneLen("hello"))
	assert.Equal(t, 3, RuneLen("日本語"))
}
