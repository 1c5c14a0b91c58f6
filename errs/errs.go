// Package errs holds the error-kind taxonomy shared by every package in
// this module (spec.md §7). It is factored out of the root dpnetpeer
// package so that packet/sendqueue/iopool/hostenum/address can report
// typed errors without an import cycle back to the root package, which
// re-exports ErrorKind and Error as type aliases for its public API.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a failure the way spec.md §7 enumerates them. It is
// never a substitute for the wrapped cause: callers that need the original
// socket/codec error should use errors.Cause/errors.As on the returned
// error.
type ErrorKind int

const (
	// KindGeneric covers anything the core cannot categorize more precisely.
	KindGeneric ErrorKind = iota
	KindInvalidParam
	KindNotInitialised
	KindAlreadyConnected
	KindNotHost
	KindNoConnection
	KindBufferTooSmall
	KindDoesNotExist
	KindHostRejectedConnection
	KindInvalidApplication
	KindInvalidPassword
	KindConnectionLost
	KindTimedOut
	KindUserCancel
	KindNotImplemented
)

func (k ErrorKind) String() string {
	switch k {
	case KindGeneric:
		return "GENERIC"
	case KindInvalidParam:
		return "INVALID_PARAM"
	case KindNotInitialised:
		return "NOT_INITIALISED"
	case KindAlreadyConnected:
		return "ALREADY_CONNECTED"
	case KindNotHost:
		return "NOT_HOST"
	case KindNoConnection:
		return "NO_CONNECTION"
	case KindBufferTooSmall:
		return "BUFFER_TOO_SMALL"
	case KindDoesNotExist:
		return "DOES_NOT_EXIST"
	case KindHostRejectedConnection:
		return "HOST_REJECTED_CONNECTION"
	case KindInvalidApplication:
		return "INVALID_APPLICATION"
	case KindInvalidPassword:
		return "INVALID_PASSWORD"
	case KindConnectionLost:
		return "CONNECTION_LOST"
	case KindTimedOut:
		return "TIMEDOUT"
	case KindUserCancel:
		return "USER_CANCEL"
	case KindNotImplemented:
		return "NOT_IMPL"
	default:
		return "UNKNOWN"
	}
}

// Error is the error type returned by every public Instance operation. The
// Kind field is a stable, switchable tag; Unwrap exposes the wrapped cause
// (if any) so callers can still reach the underlying net/io error.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds a bare Error with no wrapped cause.
func New(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps cause with errors.Wrap so errors.Cause(err) still recovers
// the original error, while the returned value remains switchable on Kind.
func Wrap(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Kind:    kind,
		Message: msg,
		cause:   errors.Wrap(cause, msg),
	}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// KindGeneric otherwise.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}
