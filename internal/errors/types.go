// Package errors defines the domain error taxonomy.
//
// Every failure that can cross a package boundary carries a Code that maps
// to an HTTP-equivalent classification. Transport handlers translate these
// at the outward edge; internal code only ever matches on Code.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error classification.
type Code string

const (
	// Authentication failures (PrincipalResolver).
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeAuthnGateway     Code = "AUTHN_GATEWAY"
	CodeAuthnUnavailable Code = "AUTHN_UNAVAILABLE"

	// Authorization failures (AuthorizationAdmission).
	CodeForbidden         Code = "FORBIDDEN"
	CodeAuthzUnauthorized Code = "AUTHZ_UNAUTHORIZED"
	CodeAuthzGateway      Code = "AUTHZ_GATEWAY"
	CodeAuthzUnavailable  Code = "AUTHZ_UNAVAILABLE"

	// Client-caused failures on the event/tracker path.
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeCursorRegression Code = "CURSOR_REGRESSION"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"

	// Service-caused failures.
	CodeSequenceConflict    Code = "SEQUENCE_CONFLICT"
	CodeWorkflowUnavailable Code = "WORKFLOW_UNAVAILABLE"
	CodeInternal            Code = "INTERNAL"
)

// HTTPStatus maps a code to its transport status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden, CodeAuthzUnauthorized:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeCursorRegression, CodeAlreadyExists:
		return http.StatusConflict
	case CodeAuthnGateway, CodeAuthzGateway:
		return http.StatusBadGateway
	case CodeAuthnUnavailable, CodeAuthzUnavailable, CodeSequenceConflict, CodeWorkflowUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsClient reports whether the code is a client-caused (4xx) failure.
// Client failures are terminal for the current call and never retried.
func (c Code) IsClient() bool {
	return c.HTTPStatus() < 500
}

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code so callers can compare against sentinel errors.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the classification of err, defaulting to CodeInternal for
// unclassified faults so they surface as a generic internal error without
// losing the originating fault's identity (it stays in the chain).
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}
