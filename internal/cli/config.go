// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command: config [subcommand]
// Short:   Inspect and create the sectoolkit config file
// Aliases: cfg
//
// Subcommands:
//   show (default)     Print the effective config, secrets redacted
//   path               Print the config file path
//   init [--force]     Write a default config file (0600)

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/campusevents/sectoolkit/internal/config"
	"github.com/campusevents/sectoolkit/internal/util"
)

const configUsage = "sectoolkit config [show|path|init]"

// HandleConfig handles the "sectoolkit config" command.
func HandleConfig(args Args) error {
	p := NewArgParser(args.Raw, "force")

	switch strings.ToLower(p.Subcommand()) {
	case "show", "":
		return handleConfigShow(args)
	case "path":
		return handleConfigPath(args)
	case "init":
		return handleConfigInit(args, p.BoolFlag("force"))
	default:
		return ErrUnknownSubcommand("config", p.Subcommand(), configUsage)
	}
}

func configPath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.ConfigPathTOML()
}

func handleConfigShow(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	if args.JSON {
		// String() is the redacted rendering; decode it so the response
		// embeds an object rather than a quoted string.
		var redacted map[string]any
		if err := json.Unmarshal([]byte(cfg.String()), &redacted); err != nil {
			return NewCommandError("config", "show", "render failed", err)
		}
		return NewJSONResponse("config show", redacted).Print()
	}

	path, _ := configPath(args)
	fmt.Fprintln(stdout, RenderConditional(TitleStyle, "sectoolkit configuration"))
	fmt.Fprintln(stdout, RenderConditional(DimStyle, path))
	fmt.Fprintln(stdout, RenderSeparator())
	fmt.Fprintln(stdout, cfg.String())
	return nil
}

func handleConfigPath(args Args) error {
	path, err := configPath(args)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(path)

	if args.JSON {
		return NewJSONResponse("config path", ConfigPathData{Path: path, Exists: statErr == nil}).Print()
	}
	fmt.Fprintln(stdout, path)
	return nil
}

func handleConfigInit(args Args, force bool) error {
	path, err := configPath(args)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !force {
		return NewCommandError("config", "init", "config already exists (use --force to overwrite)", nil)
	}

	data, err := config.Default().EncodeTOML()
	if err != nil {
		return NewCommandError("config", "init", "encode failed", err)
	}

	// May later hold the encryption key.
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return NewCommandError("config", "init", "write failed", err)
	}

	if args.JSON {
		return NewJSONResponse("config init", ConfigPathData{Path: path, Exists: true}).Print()
	}
	fmt.Fprintf(stdout, "%s wrote %s\n", RenderStatus("ok"), path)
	return nil
}
