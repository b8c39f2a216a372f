// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error display and exit code mapping for sectoolkit commands.
//
// Handlers always return errors and never print them. Run displays the
// error once (text or JSON) and maps it to an exit code.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/campusevents/sectoolkit/internal/config"
	"github.com/campusevents/sectoolkit/internal/security"
)

// =============================================================================
// EXIT CODES - Specific codes for different error categories
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates a credential did not verify
	ExitAuthError = 4
	// ExitSecurityError indicates a rejected payload or policy violation
	ExitSecurityError = 6
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
)

// ErrPasswordMismatch is returned by "password verify" when the password
// does not match the stored hash.
var ErrPasswordMismatch = errors.New("password does not match")

// =============================================================================
// ERROR TYPES FOR STRUCTURED ERROR HANDLING
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "encrypt", "config")
	Action  string // Action being performed (e.g., "init", "upload")
	Reason  string // Human-readable reason
	Err     error  // Underlying error (if any)
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError represents invalid command-line input.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Value that was provided
	Reason  string // Why validation failed
	Example string // Example of valid value (optional)
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// =============================================================================
// ERROR CONSTRUCTION HELPERS
// =============================================================================

// NewCommandError creates a new command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{
		Command: command,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// NewValidationErrorWithExample creates a validation error with an example.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Reason:  reason,
		Example: example,
	}
}

// ErrMissingArgument creates an error for missing required arguments.
func ErrMissingArgument(argName, usage string) error {
	return NewValidationErrorWithExample(argName, "", "required argument missing", usage)
}

// ErrUnknownSubcommand creates an error for an unrecognized subcommand.
func ErrUnknownSubcommand(command, sub, usage string) error {
	return NewValidationErrorWithExample(command+" subcommand", sub, "unknown subcommand", usage)
}

// =============================================================================
// ERROR DISPLAY HELPERS
// =============================================================================

// DisplayError writes err to stderr, or as a JSON error response on stdout
// in JSON mode.
func DisplayError(err error, jsonMode bool, command string) {
	if err == nil {
		return
	}

	if jsonMode {
		DisplayErrorJSON(err, command)
		return
	}

	fmt.Fprintf(stderr, "%s %s\n", RenderConditional(ErrorStyle, "[ERROR]"), err.Error())
}

// DisplayErrorJSON outputs an error as a JSON response.
func DisplayErrorJSON(err error, command string) {
	resp := NewJSONErrorResponse(command, err)
	resp.ErrorType = errorType(err)

	var verr *ValidationError
	var serr *security.ValidationError
	switch {
	case errors.As(err, &verr):
		resp.Field = verr.Field
	case errors.As(err, &serr):
		resp.Field = serr.Field
	}

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(resp)
}

func errorType(err error) string {
	var verr *ValidationError
	var serr *security.ValidationError
	var cfgErrs config.ValidateErrors
	var nf *NotFoundError

	switch {
	case errors.As(err, &verr), errors.As(err, &serr):
		return "validation_error"
	case errors.As(err, &cfgErrs):
		return "config_error"
	case errors.As(err, &nf), errors.Is(err, fs.ErrNotExist):
		return "not_found_error"
	case errors.Is(err, ErrPasswordMismatch):
		return "auth_error"
	case errors.Is(err, security.ErrDecryption), errors.Is(err, security.ErrWeakPassword):
		return "security_error"
	case errors.As(err, new(*CommandError)):
		return "command_error"
	default:
		return "generic_error"
	}
}

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return ExitUsageError
	}

	var cfgErrs config.ValidateErrors
	if errors.As(err, &cfgErrs) {
		return ExitConfigError
	}

	if errors.Is(err, ErrPasswordMismatch) {
		return ExitAuthError
	}

	var nf *NotFoundError
	if errors.As(err, &nf) {
		return ExitNotFoundError
	}

	// Rejected input (upload, email, weak password) and failed decryption.
	if errors.Is(err, security.ErrValidation) ||
		errors.Is(err, security.ErrWeakPassword) ||
		errors.Is(err, security.ErrDecryption) {
		return ExitSecurityError
	}

	if errors.Is(err, fs.ErrNotExist) {
		return ExitNotFoundError
	}

	return ExitGeneralError
}
