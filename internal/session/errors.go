// internal/session/errors.go
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// Kind is the closed taxonomy of failure classifications. Action failures
// map onto the first six kinds; launch and capacity kinds can only surface
// from session creation.
type Kind string

const (
	KindValidation           Kind = "validation_error"
	KindNotFound             Kind = "session_not_found"
	KindElementNotFound      Kind = "element_not_found"
	KindActionabilityTimeout Kind = "actionability_timeout"
	KindNavigation           Kind = "navigation_error"
	KindEngineCrash          Kind = "engine_crash"
	KindLaunchFailed         Kind = "engine_launch_failed"
	KindCapacity             Kind = "capacity_exhausted"
	KindInternal             Kind = "internal_error"
)

// Error couples a classified kind with a human-readable message and the
// underlying engine failure, when there is one.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error with no underlying cause.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a classification to an underlying failure.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the classification from err, or KindInternal when err
// carries none.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Classify maps a raw engine failure onto the taxonomy. It is a pure
// function of the failure signal and the action that produced it; it never
// inspects or mutates session state. Already-classified errors pass through
// untouched.
func Classify(action schemas.ActionName, err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	// The engine process went away underneath us.
	if errors.Is(err, playwright.ErrTargetClosed) {
		return WrapError(KindEngineCrash, "browser terminated unexpectedly", err)
	}

	msg := err.Error()

	if errors.Is(err, playwright.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		switch {
		case action == schemas.ActionGoto:
			return WrapError(KindNavigation, "navigation timed out", err)
		case strings.Contains(msg, "waiting for locator"),
			strings.Contains(msg, "waiting for get_by_role"),
			strings.Contains(msg, "waiting for getByRole"):
			// The wait never progressed past locating the element, so the
			// element is simply not there.
			return WrapError(KindElementNotFound, "element not found", err)
		default:
			return WrapError(KindActionabilityTimeout, "target did not become actionable in time", err)
		}
	}

	if errors.Is(err, context.Canceled) {
		return WrapError(KindActionabilityTimeout, "action abandoned before completion", err)
	}

	// Navigation failures carry engine-specific network error markers:
	// net::ERR_* for Chromium, NS_ERROR_* for Firefox.
	if strings.Contains(msg, "net::ERR_") ||
		strings.Contains(msg, "NS_ERROR_") ||
		strings.Contains(msg, "Could not connect") ||
		strings.Contains(msg, "Cannot navigate to invalid URL") ||
		strings.Contains(msg, "SSL_ERROR") {
		return WrapError(KindNavigation, "navigation failed", err)
	}

	if strings.Contains(msg, "strict mode violation") {
		return WrapError(KindElementNotFound, "locator matched more than one element", err)
	}

	if errors.Is(err, playwright.ErrPlaywright) {
		return WrapError(KindInternal, "engine rejected the operation", err)
	}

	return WrapError(KindInternal, "unclassified engine failure", err)
}
