// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/storage"
	"github.com/jeranaias/coca/internal/stream"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	// ExitAuthError means the user has to log in again.
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
	// ExitInterrupted follows the shell convention for SIGINT.
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError is bad user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
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

// NotFoundError is a missing local resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError wraps a failure to load or apply configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "config: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// ErrNotLoggedIn is returned by commands that need stored credentials.
var ErrNotLoggedIn = errors.New("not logged in")

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// NewValidationErrorWithExample creates a ValidationError with a usage hint.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason, Example: example}
}

// ErrMissingArgument reports a required argument that was not given.
func ErrMissingArgument(argName, usage string) error {
	return NewValidationErrorWithExample(argName, "", "required argument missing", usage)
}

// ErrUnsupportedFormat reports an unknown --format value.
func ErrUnsupportedFormat(format string, supported []string) error {
	return NewValidationErrorWithExample("format", format, "unsupported format",
		fmt.Sprintf("supported formats: %v", supported))
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps an error to the process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validationErr *ValidationError
	var notFoundErr *NotFoundError
	var cfgErr *ConfigError
	var netErr net.Error
	var statusErr *stream.StatusError
	var ttyErr *TTYRequiredError

	switch {
	case errors.As(err, &validationErr),
		errors.As(err, &ttyErr),
		errors.Is(err, ErrEmptyMessage):
		return ExitUsageError
	case errors.Is(err, api.ErrLoginRequired),
		errors.Is(err, ErrNotLoggedIn),
		errors.Is(err, api.ErrUnauthorized),
		errors.Is(err, api.ErrPasswordMismatch):
		return ExitAuthError
	case errors.As(err, &statusErr) && statusErr.StatusCode == 401:
		// Streamed sends are not refreshed; an expired token surfaces here.
		return ExitAuthError
	case errors.As(err, &notFoundErr),
		errors.Is(err, api.ErrNotFound),
		errors.Is(err, storage.ErrTranscriptNotFound):
		return ExitNotFoundError
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.Is(err, context.Canceled), errors.Is(err, stream.ErrCancelled):
		return ExitInterrupted
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, stream.ErrIdleTimeout):
		return ExitTimeoutError
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return ExitTimeoutError
		}
		return ExitNetworkError
	}
	return ExitGeneralError
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// DisplayError writes err to w, as a JSON object in JSON mode. A
// login-required failure adds a hint to run coca login.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		DisplayErrorJSON(w, err)
		return
	}

	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	if GetExitCode(err) == ExitAuthError && !errors.Is(err, api.ErrPasswordMismatch) {
		fmt.Fprintf(w, "%s\n", DimStyle.Render("Run 'coca login' to sign in again."))
	}
}

// DisplayErrorJSON writes err as {"success":false,...}.
func DisplayErrorJSON(w io.Writer, err error) {
	out := map[string]any{
		"success":   false,
		"error":     err.Error(),
		"exit_code": GetExitCode(err),
	}

	var validationErr *ValidationError
	var notFoundErr *NotFoundError
	var apiErr *api.APIError
	switch {
	case errors.As(err, &validationErr):
		out["error_type"] = "validation_error"
		out["field"] = validationErr.Field
		if validationErr.Example != "" {
			out["example"] = validationErr.Example
		}
	case errors.As(err, &notFoundErr):
		out["error_type"] = "not_found_error"
		out["resource"] = notFoundErr.Resource
		out["id"] = notFoundErr.ID
	case errors.As(err, &apiErr):
		out["error_type"] = "api_error"
		out["status"] = apiErr.Status
		if apiErr.Code != 0 {
			out["code"] = apiErr.Code
		}
		out["login_required"] = api.IsLoginRequired(err)
	default:
		out["error_type"] = "generic_error"
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}
