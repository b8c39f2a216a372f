// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// helpers.go - Config, logger and Manager construction shared by commands.
package cli

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/campusevents/sectoolkit/internal/config"
	"github.com/campusevents/sectoolkit/internal/logging"
	"github.com/campusevents/sectoolkit/internal/security"
)

// loadConfig loads --config when given, otherwise the default location.
func loadConfig(args Args) (*config.Config, error) {
	if args.ConfigPath != "" {
		return config.LoadFromPath(args.ConfigPath)
	}
	return config.Load()
}

// newLogger builds the CLI logger. Commands print their results on stdout,
// so logging stays at error level unless --verbose asks for debug output.
func newLogger(args Args, cfg *config.Config) (*zap.Logger, error) {
	lc := cfg.Logging
	if args.Verbose {
		lc.Level = "debug"
	} else {
		lc.Level = "error"
	}
	return logging.New(lc)
}

// newManager loads config and builds a Manager. The returned cleanup closes
// the manager and flushes the logger.
func newManager(args Args, mutate func(*config.Config)) (*security.Manager, func(), error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger, err := newLogger(args, cfg)
	if err != nil {
		return nil, nil, NewCommandError("config", "load", "invalid logging settings", err)
	}

	mgr, err := security.NewManager(cfg, security.WithLogger(logger))
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}

	cleanup := func() {
		_ = mgr.Close()
		_ = logger.Sync()
	}
	return mgr, cleanup, nil
}

// formatBytes formats a byte count for display.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
