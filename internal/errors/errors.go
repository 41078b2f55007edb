// Package errors centralizes the error-kind taxonomy of §7: every
// state-mutating operation in the core returns either nil or an *Error
// whose Kind maps to exactly one HTTP status at the boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the six error kinds carried through the core.
type Kind string

const (
	KindRequestValidation   Kind = "RequestValidation"
	KindAuthorization       Kind = "Authorization"
	KindConflict            Kind = "Conflict"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindUnsupported         Kind = "Unsupported"
	KindServer              Kind = "Server"
)

// httpStatus maps each Kind to the HTTP status named in §7.
var httpStatus = map[Kind]int{
	KindRequestValidation:   http.StatusBadRequest,
	KindAuthorization:       http.StatusForbidden,
	KindConflict:            http.StatusConflict,
	KindUpstreamUnavailable: http.StatusServiceUnavailable,
	KindUnsupported:         http.StatusUnprocessableEntity,
	KindServer:              http.StatusInternalServerError,
}

// Error is the typed error value threaded through the core. It wraps an
// optional underlying cause the way the teacher wraps errors with
// fmt.Errorf("...: %w", err), but centralizes the kind->status table
// instead of spreading status decisions across handlers.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status this error's Kind maps to, or 500 if
// the Kind is unrecognized.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New constructs an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error carrying cause, formatting message around it.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation, Authz, Conflict, Upstream, Unsupported, Server are
// convenience constructors for the six kinds.
func Validation(format string, args ...any) *Error {
	return New(KindRequestValidation, fmt.Sprintf(format, args...))
}

func Authz(format string, args ...any) *Error {
	return New(KindAuthorization, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func Upstream(cause error, format string, args ...any) *Error {
	return Wrap(KindUpstreamUnavailable, cause, fmt.Sprintf(format, args...))
}

func Unsupported(format string, args ...any) *Error {
	return New(KindUnsupported, fmt.Sprintf(format, args...))
}

func Server(cause error, format string, args ...any) *Error {
	return Wrap(KindServer, cause, fmt.Sprintf(format, args...))
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error,
// defaulting to KindServer for anything else — an unclassified failure is
// treated as a server error, never silently surfaced as a 4xx.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// StatusOf returns the HTTP status for err per the same rule as KindOf.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
