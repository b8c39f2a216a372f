// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command: sanitize [subcommand]
// Short:   Run the input sanitizer over a value or an upload
// Aliases: san
//
// Subcommands:
//   string <value> [--allow-html]     Strip script/SQL fragments and escape
//   email <value>                     Validate an email address
//   filename <value>                  Make a filename safe to store
//   upload <path> --category C        Validate an upload (image|document)
//
// Examples:
//   sectoolkit sanitize string '<script>alert(1)</script>hi'
//   sectoolkit sanitize filename '../../etc/passwd'
//   sectoolkit sanitize upload ./avatar.png --category image

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/campusevents/sectoolkit/internal/security"
)

const sanitizeUsage = "sectoolkit sanitize [string|email|filename|upload] <value>"

// HandleSanitize handles the "sectoolkit sanitize" command.
func HandleSanitize(args Args) error {
	p := NewArgParser(args.Raw, "allow-html")

	sub := strings.ToLower(p.Subcommand())
	switch sub {
	case "string", "email", "filename", "upload":
	case "":
		return ErrMissingArgument("sanitize subcommand", sanitizeUsage)
	default:
		return ErrUnknownSubcommand("sanitize", p.Subcommand(), sanitizeUsage)
	}

	value := JoinPositionalArgs(p, 1)
	if value == "" {
		return ErrMissingArgument("value", fmt.Sprintf("sectoolkit sanitize %s <value>", sub))
	}

	mgr, cleanup, err := newManager(args, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	var result string
	switch sub {
	case "string":
		result = mgr.SanitizeStringWith(value, security.SanitizeOptions{AllowHTML: p.BoolFlag("allow-html")})
	case "email":
		result, err = mgr.SanitizeEmail(value)
		if err != nil {
			return err
		}
	case "filename":
		result = mgr.SanitizeFilename(value)
	case "upload":
		return handleSanitizeUpload(args, p, mgr, p.Positional(1))
	}

	if args.JSON {
		return NewJSONResponse("sanitize "+sub, ValueData{Value: result}).Print()
	}
	fmt.Fprintln(stdout, result)
	return nil
}

func handleSanitizeUpload(args Args, p *ArgParser, mgr *security.Manager, path string) error {
	category := security.UploadCategory(strings.ToLower(p.Flag("category")))
	if category == "" {
		return ErrMissingArgument("--category", "sectoolkit sanitize upload <path> --category image|document")
	}

	if err := mgr.ValidateFileUpload(path, category); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return NewCommandError("sanitize", "upload", "stat failed", err)
	}

	data := UploadData{
		Path:     path,
		Category: string(category),
		Size:     info.Size(),
		Accepted: true,
	}
	if args.JSON {
		return NewJSONResponse("sanitize upload", data).Print()
	}

	fmt.Fprintf(stdout, "%s %s accepted as %s (%s)\n",
		RenderStatus("ok"), path, category, formatBytes(data.Size))
	return nil
}
