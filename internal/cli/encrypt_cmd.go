// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command: encrypt <text> | encrypt keygen | decrypt <payload>
// Short:   AES-256-GCM encryption of short values
// Aliases: enc, dec
//
// The key is taken from --key (standard base64, 32 bytes), otherwise from
// the [encryption] section of the config (key, or passphrase + salt).
// Without either the command fails: an ephemeral key would make the output
// impossible to decrypt.
//
// Examples:
//   KEY=$(sectoolkit encrypt keygen)
//   sectoolkit encrypt "card on file" --key "$KEY"
//   sectoolkit decrypt "ENC:..." --key "$KEY"

package cli

import (
	"encoding/base64"
	"fmt"

	"github.com/campusevents/sectoolkit/internal/config"
	"github.com/campusevents/sectoolkit/internal/security"
)

// HandleEncrypt handles the "sectoolkit encrypt" command.
func HandleEncrypt(args Args) error {
	p := NewArgParser(args.Raw)

	if p.Subcommand() == "keygen" && p.PositionalCount() == 1 {
		return handleKeygen(args)
	}

	text := JoinPositionalArgs(p, 0)
	if text == "" {
		return ErrMissingArgument("text", "sectoolkit encrypt <text> --key BASE64")
	}

	mgr, cleanup, err := newKeyedManager(args, p.Flag("key"))
	if err != nil {
		return err
	}
	defer cleanup()

	payload, err := mgr.Encrypt(text)
	if err != nil {
		return NewCommandError("encrypt", "encrypt", "encryption failed", err)
	}

	if args.JSON {
		return NewJSONResponse("encrypt", ValueData{Value: payload}).Print()
	}
	fmt.Fprintln(stdout, payload)
	return nil
}

// HandleDecrypt handles the "sectoolkit decrypt" command.
func HandleDecrypt(args Args) error {
	p := NewArgParser(args.Raw)

	payload := p.Positional(0)
	if payload == "" {
		return ErrMissingArgument("payload", "sectoolkit decrypt ENC:... --key BASE64")
	}

	mgr, cleanup, err := newKeyedManager(args, p.Flag("key"))
	if err != nil {
		return err
	}
	defer cleanup()

	plaintext, err := mgr.Decrypt(payload)
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("decrypt", ValueData{Value: plaintext}).Print()
	}
	fmt.Fprintln(stdout, plaintext)
	return nil
}

func handleKeygen(args Args) error {
	key, err := security.GenerateKey()
	if err != nil {
		return NewCommandError("encrypt", "keygen", "key generation failed", err)
	}
	defer security.ZeroBytes(key)

	encoded := base64.StdEncoding.EncodeToString(key)
	if args.JSON {
		return NewJSONResponse("encrypt keygen", ValueData{Value: encoded}).Print()
	}
	fmt.Fprintln(stdout, encoded)
	return nil
}

// newKeyedManager builds a Manager whose key comes from keyFlag or the
// config, refusing to fall back to an ephemeral key.
func newKeyedManager(args Args, keyFlag string) (*security.Manager, func(), error) {
	if keyFlag != "" {
		raw, err := base64.StdEncoding.DecodeString(keyFlag)
		if err != nil || len(raw) != security.KeySize {
			security.ZeroBytes(raw)
			return nil, nil, NewValidationErrorWithExample("--key", "", "must be 32 bytes of standard base64",
				"sectoolkit encrypt keygen")
		}
		security.ZeroBytes(raw)
	}

	var keyed bool
	mgr, cleanup, err := newManager(args, func(cfg *config.Config) {
		if keyFlag != "" {
			cfg.Encryption.Key = keyFlag
			cfg.Encryption.Passphrase = ""
		}
		keyed = cfg.Encryption.Key != "" || cfg.Encryption.Passphrase != ""
	})
	if err != nil {
		return nil, nil, err
	}
	if !keyed {
		cleanup()
		return nil, nil, ErrMissingArgument("--key", "sectoolkit encrypt <text> --key \"$(sectoolkit encrypt keygen)\"")
	}
	return mgr, cleanup, nil
}
