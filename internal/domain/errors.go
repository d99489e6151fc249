package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for callers.
type ErrorKind string

const (
	KindUnauthenticated    ErrorKind = "unauthenticated"
	KindPermissionDenied   ErrorKind = "permission-denied"
	KindInvalidArgument    ErrorKind = "invalid-argument"
	KindNotFound           ErrorKind = "not-found"
	KindFailedPrecondition ErrorKind = "failed-precondition"
	KindInternal           ErrorKind = "internal"
)

// Error is a classified domain error carrying a caller-facing message.
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

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an error, or KindInternal for unclassified errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Unauthenticated reports a missing or invalid principal.
func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

// PermissionDenied reports a principal lacking the required role or ownership.
func PermissionDenied(message string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: message}
}

// InvalidArgument reports missing or malformed input.
func InvalidArgument(message string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: message}
}

// NotFound reports an absent referenced entity.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// FailedPrecondition reports a valid request that the current state forbids.
func FailedPrecondition(message string) *Error {
	return &Error{Kind: KindFailedPrecondition, Message: message}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}
