// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and top-level help for sectoolkit.
package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Output streams. Tests swap these out.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	stdin  io.Reader = os.Stdin
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdHelp Command = iota
	CmdVersion
	CmdPassword
	CmdSanitize
	CmdEncrypt
	CmdDecrypt
	CmdConfig
	CmdUnknown
)

// String returns the command name used in JSON responses.
func (c Command) String() string {
	switch c {
	case CmdHelp:
		return "help"
	case CmdVersion:
		return "version"
	case CmdPassword:
		return "password"
	case CmdSanitize:
		return "sanitize"
	case CmdEncrypt:
		return "encrypt"
	case CmdDecrypt:
		return "decrypt"
	case CmdConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	JSON       bool   // Output in JSON format
	ConfigPath string // Explicit config file (--config)
	Verbose    bool

	// Command-specific
	Name       string // Command word as typed
	Subcommand string

	// Raw args (remaining after global flag parsing, subcommand included)
	Raw []string
}

const usageText = `sectoolkit - client-side security toolkit

Usage:
  sectoolkit <command> [subcommand] [flags]

Password Commands:
  sectoolkit password hash [--stdin]          Hash a password (prints hash + salt)
  sectoolkit password verify --hash H --salt S
                                              Verify a password (exit 4 on mismatch)
  sectoolkit password generate [--length N]   Generate a random password
  sectoolkit password mask <password>         Mask a password for display
  sectoolkit password check [--stdin]         Check password strength

Sanitize Commands:
  sectoolkit sanitize string <value> [--allow-html]
  sectoolkit sanitize email <value>
  sectoolkit sanitize filename <value>
  sectoolkit sanitize upload <path> --category image|document

Encryption Commands:
  sectoolkit encrypt <text> [--key BASE64]    Encrypt text (ENC: payload)
  sectoolkit decrypt <payload> [--key BASE64] Decrypt an ENC: payload
  sectoolkit encrypt keygen                   Generate a 256-bit key

  Without --key the key (or passphrase + salt) comes from the config.
  Algorithm: AES-256-GCM, PBKDF2-SHA-256 for passphrases

Config Commands:
  sectoolkit config show                      Show effective config (secrets redacted)
  sectoolkit config path                      Show config file path
  sectoolkit config init [--force]            Write a default config file

Global Flags:
  --json          Output in JSON format
  --config PATH   Use config file at PATH
  -v, --verbose   Debug logging on stderr

Examples:
  sectoolkit password generate --length 20
  echo 'hunter2' | sectoolkit password hash --stdin --json
  sectoolkit sanitize filename '../../etc/passwd'
  sectoolkit encrypt "hello" --key "$(sectoolkit encrypt keygen)"

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Fprintf(stdout, usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Fprintf(stdout, "sectoolkit version %s\n", Version)
	fmt.Fprintf(stdout, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(stdout, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(stdout, "  Go:         %s\n", runtime.Version())
}

// Parse parses os.Args and returns the command and args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses an argument vector (without the program name).
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdHelp, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	parsedArgs.Name = cmd
	parsedArgs.Raw = remaining[1:]
	if len(parsedArgs.Raw) > 0 && !strings.HasPrefix(parsedArgs.Raw[0], "-") {
		parsedArgs.Subcommand = strings.ToLower(parsedArgs.Raw[0])
	}

	switch cmd {
	case "password", "passwd", "pw":
		return CmdPassword, parsedArgs
	case "sanitize", "san":
		return CmdSanitize, parsedArgs
	case "encrypt", "enc":
		return CmdEncrypt, parsedArgs
	case "decrypt", "dec":
		return CmdDecrypt, parsedArgs
	case "config", "cfg":
		return CmdConfig, parsedArgs
	case "version", "--version":
		return CmdVersion, parsedArgs
	case "help", "-h", "--help":
		return CmdHelp, parsedArgs
	default:
		return CmdUnknown, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "--json":
			parsedArgs.JSON = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--config":
			if i+1 < len(args) {
				i++
				parsedArgs.ConfigPath = args[i]
			}
		default:
			if strings.HasPrefix(arg, "--config=") {
				parsedArgs.ConfigPath = strings.TrimPrefix(arg, "--config=")
			} else {
				remaining = append(remaining, arg)
			}
		}
	}

	return remaining, parsedArgs
}

// Run dispatches a parsed command and returns the process exit code.
func Run(cmd Command, args Args) int {
	var err error

	switch cmd {
	case CmdHelp:
		PrintUsage()
	case CmdVersion:
		err = HandleVersion(args)
	case CmdPassword:
		err = HandlePassword(args)
	case CmdSanitize:
		err = HandleSanitize(args)
	case CmdEncrypt:
		err = HandleEncrypt(args)
	case CmdDecrypt:
		err = HandleDecrypt(args)
	case CmdConfig:
		err = HandleConfig(args)
	default:
		err = NewValidationErrorWithExample("command", args.Name, "unknown command", "sectoolkit help")
	}

	if err != nil {
		DisplayError(err, args.JSON, cmd.String())
		return GetExitCode(err)
	}
	return ExitSuccess
}

// HandleVersion handles "sectoolkit version".
func HandleVersion(args Args) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Print()
	}
	PrintVersion()
	return nil
}
