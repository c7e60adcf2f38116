package contracts

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies gateway failures for callers. Every error that crosses
// the API boundary carries exactly one kind.
type ErrorKind string

const (
	// KindNotFound: the requested tool or backend is not registered.
	KindNotFound ErrorKind = "not_found"
	// KindServiceUnavailable: the backend cannot serve right now (failed to
	// start, circuit open, or stopped).
	KindServiceUnavailable ErrorKind = "service_unavailable"
	// KindHandshakeFailure: a connection was established but the protocol
	// handshake failed.
	KindHandshakeFailure ErrorKind = "handshake_failure"
	// KindTimeout: a lifecycle step exceeded its bounded time budget.
	KindTimeout ErrorKind = "timeout"
	// KindInvocationError: the tool itself reported an error. Passed through
	// verbatim and never counted against the backend's health.
	KindInvocationError ErrorKind = "invocation_error"
	// KindConfiguration: missing credentials, malformed registration, or
	// arguments that do not match the tool's schema.
	KindConfiguration ErrorKind = "configuration_error"
)

// Error is the gateway's typed error. It wraps an underlying cause so that
// errors.Is/As keep working through the classification layer.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so callers can match with errors.Is against a
// bare-kind sentinel, e.g. errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds a classified error wrapping an optional cause.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Errorf builds a classified error with a formatted message and no cause.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from any error in the chain, defaulting to
// service_unavailable for unclassified infrastructure failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServiceUnavailable
}

// HTTPStatus maps an error kind to the status code the API layer returns.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindHandshakeFailure:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindInvocationError:
		return http.StatusUnprocessableEntity
	case KindConfiguration:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// CountsAgainstBreaker reports whether a failure of this kind should feed the
// backend's circuit breaker. Tool-level errors never do: the backend did its
// job by reporting them.
func CountsAgainstBreaker(kind ErrorKind) bool {
	switch kind {
	case KindServiceUnavailable, KindHandshakeFailure, KindTimeout:
		return true
	default:
		return false
	}
}
