// Package apperr classifies failures so callers can decide whether to retry,
// roll back, or surface them to the user.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes an application error.
type Kind string

const (
	// KindValidation means an entity invariant or input rule was violated.
	// Never retried; the caller must correct the input.
	KindValidation Kind = "validation"

	// KindConflict means the operation is legal in isolation but the target
	// is in the wrong state (already sent, already recorded).
	KindConflict Kind = "conflict"

	// KindTransient covers network failures, timeouts and unavailable
	// collaborators. Background polling retries these; user actions surface them.
	KindTransient Kind = "transient"

	// KindNotFound means the entity is missing or owned by another user.
	KindNotFound Kind = "not_found"
)

// Conflict codes.
const (
	CodeAlreadySent     = "ALREADY_SENT"
	CodeAlreadyRecorded = "ALREADY_RECORDED"
	CodeAlreadyArchived = "ALREADY_ARCHIVED"
)

// Error is the typed error returned by services and the API client.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a validation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a conflict error carrying one of the Code* constants.
func Conflict(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error for the named entity.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// Transient wraps err as a retryable failure.
func Transient(err error, format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the conflict code of err, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }

// IsTransient reports whether err should be retried by background pollers.
// Errors that were never classified count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == KindTransient || k == ""
}

// Is reports whether err is a conflict with the given code.
func Is(err error, code string) bool {
	return IsConflict(err) && CodeOf(err) == code
}
