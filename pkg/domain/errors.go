package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrNotFound         = errors.New("operation not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrPermissionDenied = errors.New("permission denied")
	ErrMalformedRequest = errors.New("malformed request")
	ErrRateLimited      = errors.New("rate limited")
	ErrConfigInvalid    = errors.New("invalid configuration")
)

// ErrorKind is the machine-readable error class carried on the wire.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "NotFound"
	KindInvalidArgument  ErrorKind = "InvalidArgument"
	KindPermissionDenied ErrorKind = "PermissionDenied"
	KindMalformedRequest ErrorKind = "MalformedRequest"
	KindRateLimited      ErrorKind = "RateLimited"
	KindInternal         ErrorKind = "Internal"
)

// Error wraps a sentinel with the operation it came from and a caller-safe message.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Op != "":
		return e.Op + ": " + e.Message
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error kind, so a *Error
// decoded from the wire without its original cause still satisfies errors.Is.
func (e *Error) Is(target error) bool {
	return sentinelFor(e.Kind) == target
}

// NotFoundError reports an unknown operation name.
func NotFoundError(name string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("operation not found: %s", name),
		Err:     ErrNotFound,
	}
}

// InvalidArgumentf reports an argument that does not fit the operation signature.
func InvalidArgumentf(op, format string, args ...any) *Error {
	return &Error{
		Kind:    KindInvalidArgument,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrInvalidArgument,
	}
}

// PermissionDeniedError reports a call rejected by the policy gate.
func PermissionDeniedError(op, reason string) *Error {
	if reason == "" {
		reason = "denied by policy"
	}
	return &Error{
		Kind:    KindPermissionDenied,
		Op:      op,
		Message: reason,
		Err:     ErrPermissionDenied,
	}
}

// RateLimitedError reports a call rejected because its method exceeded its rate limit.
func RateLimitedError(op string) *Error {
	return &Error{
		Kind:    KindRateLimited,
		Op:      op,
		Message: "rate limit exceeded",
		Err:     ErrRateLimited,
	}
}

// MalformedRequestf reports a request that could not be decoded.
func MalformedRequestf(format string, args ...any) *Error {
	return &Error{
		Kind:    KindMalformedRequest,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrMalformedRequest,
	}
}

// KindOf classifies any error into its wire kind. Unclassified errors are Internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) && de.Kind != "" {
		return de.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrMalformedRequest):
		return KindMalformedRequest
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case KindNotFound:
		return ErrNotFound
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindMalformedRequest:
		return ErrMalformedRequest
	case KindRateLimited:
		return ErrRateLimited
	default:
		return nil
	}
}
