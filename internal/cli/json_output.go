// json_output.go - JSON output for scripting and log pipelines.
//
// Every command emits the same envelope in --json mode so callers can check
// "success" without knowing the command.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import (
	"encoding/json"
	"time"
)

// JSONResponse is the standardized response format for all CLI commands.
type JSONResponse struct {
	// Success indicates whether the command completed successfully
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data interface{} `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// ErrorType and Field classify failures
	ErrorType string `json:"error_type,omitempty"`
	Field     string `json:"field,omitempty"`

	// Timestamp is the RFC3339 UTC time the response was generated
	Timestamp string `json:"timestamp"`

	// Command is the command that was executed
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print writes the JSON response to stdout.
func (r *JSONResponse) Print() error {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// VersionData represents the data returned by the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// PasswordHashData is returned by "password hash".
type PasswordHashData struct {
	Hash       string `json:"hash"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
}

// PasswordVerifyData is returned by "password verify".
type PasswordVerifyData struct {
	Match bool `json:"match"`
}

// PasswordCheckData is returned by "password check".
type PasswordCheckData struct {
	Strong bool `json:"strong"`
}

// ValueData carries a single string result.
type ValueData struct {
	Value string `json:"value"`
}

// UploadData is returned by "sanitize upload".
type UploadData struct {
	Path     string `json:"path"`
	Category string `json:"category"`
	Size     int64  `json:"size_bytes"`
	Accepted bool   `json:"accepted"`
}

// ConfigPathData is returned by "config path" and "config init".
type ConfigPathData struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}
