// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command: password [subcommand]
// Short:   Hash, verify, generate, mask and check passwords
// Aliases: passwd, pw
//
// Subcommands:
//   hash [--stdin]                 Hash a password, print hash + salt
//   verify --hash H --salt S       Verify a password against hash + salt
//   generate [--length N]          Generate a random password
//   mask <password>                Mask a password for display
//   check [--stdin]                Check a password against the policy
//
// Passwords are read without echo from the terminal, or as one line from
// stdin with --stdin.

package cli

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/campusevents/sectoolkit/internal/security"
)

const passwordUsage = "sectoolkit password [hash|verify|generate|mask|check]"

// HandlePassword handles the "sectoolkit password" command.
func HandlePassword(args Args) error {
	p := NewArgParser(args.Raw, "stdin")

	switch strings.ToLower(p.Subcommand()) {
	case "hash":
		return handlePasswordHash(args, p)
	case "verify":
		return handlePasswordVerify(args, p)
	case "generate", "gen":
		return handlePasswordGenerate(args, p)
	case "mask":
		return handlePasswordMask(args, p)
	case "check", "strength":
		return handlePasswordCheck(args, p)
	case "":
		return ErrMissingArgument("password subcommand", passwordUsage)
	default:
		return ErrUnknownSubcommand("password", p.Subcommand(), passwordUsage)
	}
}

func readPassword(p *ArgParser) (string, error) {
	pw, err := ReadSecret("Password: ", p.BoolFlag("stdin"))
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", NewValidationError("password", "", "must not be empty")
	}
	return pw, nil
}

func handlePasswordHash(args Args, p *ArgParser) error {
	pw, err := readPassword(p)
	if err != nil {
		return err
	}

	mgr, cleanup, err := newManager(args, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	hash, salt, err := mgr.HashPassword(pw)
	if err != nil {
		return NewCommandError("password", "hash", "hashing failed", err)
	}

	data := PasswordHashData{
		Hash:       hash,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Iterations: mgr.Config().Password.Iterations,
	}
	if args.JSON {
		return NewJSONResponse("password hash", data).Print()
	}

	fmt.Fprintln(stdout, RenderField("Hash:", data.Hash))
	fmt.Fprintln(stdout, RenderField("Salt:", data.Salt))
	fmt.Fprintln(stdout, RenderField("Iterations:", fmt.Sprint(data.Iterations)))
	return nil
}

func handlePasswordVerify(args Args, p *ArgParser) error {
	hash := p.Flag("hash")
	if hash == "" {
		return ErrMissingArgument("--hash", "sectoolkit password verify --hash H --salt S")
	}
	saltB64 := p.Flag("salt")
	if saltB64 == "" {
		return ErrMissingArgument("--salt", "sectoolkit password verify --hash H --salt S")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil || len(salt) == 0 {
		return NewValidationError("--salt", "", "must be standard base64")
	}

	pw, err := readPassword(p)
	if err != nil {
		return err
	}

	mgr, cleanup, err := newManager(args, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	if !mgr.VerifyPassword(pw, hash, salt) {
		return ErrPasswordMismatch
	}

	if args.JSON {
		return NewJSONResponse("password verify", PasswordVerifyData{Match: true}).Print()
	}
	fmt.Fprintf(stdout, "%s password matches\n", RenderStatus("ok"))
	return nil
}

func handlePasswordGenerate(args Args, p *ArgParser) error {
	length := 0
	if p.HasFlag("length") {
		n, err := ParseIntWithValidation(p.Flag("length"), "--length")
		if err != nil {
			return err
		}
		length = n
	}

	mgr, cleanup, err := newManager(args, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	pw, err := mgr.GeneratePassword(length)
	if err != nil {
		if errors.Is(err, security.ErrInvalidLength) {
			return NewValidationError("--length", p.Flag("length"), err.Error())
		}
		return NewCommandError("password", "generate", "generation failed", err)
	}

	if args.JSON {
		return NewJSONResponse("password generate", ValueData{Value: pw}).Print()
	}
	fmt.Fprintln(stdout, pw)
	return nil
}

func handlePasswordMask(args Args, p *ArgParser) error {
	pw := JoinPositionalArgs(p, 1)
	if pw == "" {
		return ErrMissingArgument("password", "sectoolkit password mask <password>")
	}

	mgr, cleanup, err := newManager(args, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	masked := mgr.MaskPassword(pw)
	if args.JSON {
		return NewJSONResponse("password mask", ValueData{Value: masked}).Print()
	}
	fmt.Fprintln(stdout, masked)
	return nil
}

func handlePasswordCheck(args Args, p *ArgParser) error {
	pw, err := readPassword(p)
	if err != nil {
		return err
	}

	mgr, cleanup, err := newManager(args, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := mgr.CheckPasswordStrength(pw); err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("password check", PasswordCheckData{Strong: true}).Print()
	}
	fmt.Fprintf(stdout, "%s password meets policy\n", RenderStatus("ok"))
	return nil
}
