// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Exit codes and error display for lifedash commands.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/chat"
	"github.com/jeranaias/lifedash-tui/internal/config"
	"github.com/jeranaias/lifedash-tui/internal/session"
	"github.com/jeranaias/lifedash-tui/internal/stream"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates a configuration file or settings error
	ExitConfigError = 3
	// ExitNetworkError indicates the backend could not be reached
	ExitNetworkError = 5
	// ExitNotFoundError indicates a conversation or profile was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
	// ExitBackendError indicates the backend answered with an error
	ExitBackendError = 9
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError is invalid command input.
type UsageError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NotFoundError is a conversation or profile reference that matched
// nothing.
type NotFoundError struct {
	Resource string
	Ref      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Ref)
}

func errUsage(field, value, reason string) error {
	return &UsageError{Field: field, Value: value, Reason: reason}
}

func errNotFound(resource, ref string) error {
	return &NotFoundError{Resource: resource, Ref: ref}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsageError
	}
	var ttyErr *TTYRequiredError
	if errors.As(err, &ttyErr) {
		return ExitUsageError
	}

	var cfgErrs config.ValidateErrors
	var cfgErr config.ValidationError
	if errors.As(err, &cfgErrs) || errors.As(err, &cfgErr) || errors.Is(err, backend.ErrNotConfigured) {
		return ExitConfigError
	}

	var nf *NotFoundError
	if errors.As(err, &nf) || errors.Is(err, backend.ErrNotFound) {
		return ExitNotFoundError
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, chat.ErrStreamIdle) {
		return ExitTimeoutError
	}

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) || errors.Is(err, stream.ErrStreamFailed) {
		return ExitBackendError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ExitNetworkError
	}

	return ExitGeneralError
}

// hint returns a follow-up suggestion for well-known failures.
func hint(err error) string {
	switch {
	case errors.Is(err, backend.ErrNotConfigured):
		return "Set backend.url with: lifedash config set backend.url http://localhost:8000/api"
	case errors.Is(err, session.ErrVisionUnsupported):
		return "Switch to a vision-capable model with: lifedash profiles use <id>"
	case errors.Is(err, chat.ErrImageTooLarge):
		return "Images must be 5 MiB or smaller."
	case ExitCode(err) == ExitNetworkError:
		return "Is the dashboard backend running? Check backend.url with: lifedash config get backend.url"
	}
	return ""
}

// DisplayError writes err and a hint, if any, to w.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), strings.TrimSpace(err.Error()))
	if h := hint(err); h != "" {
		fmt.Fprintln(w, DimStyle.Render(h))
	}
}
