package model

import (
	"errors"
	"fmt"
)

// Reason discriminates why an operation was rejected, so integrating
// collaborators can branch on the failure programmatically instead of
// matching message strings.
type Reason string

const (
	ReasonAlreadyExists      Reason = "ALREADY_EXISTS"
	ReasonNotFound           Reason = "NOT_FOUND"
	ReasonAccessDenied       Reason = "ACCESS_DENIED"
	ReasonInvalidArgument    Reason = "INVALID_ARGUMENT"
	ReasonExternalCallFailed Reason = "EXTERNAL_CALL_FAILED"
)

// Error is the failure value surfaced by every rejected operation. On
// ReasonAlreadyExists, Conflict carries the pre-existing entity for caller
// inspection.
type Error struct {
	Reason   Reason
	Detail   string
	Conflict interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// NewError builds an *Error with a formatted detail message.
func NewError(reason Reason, format string, args ...interface{}) *Error {
	return &Error{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// NewConflict builds an ALREADY_EXISTS error carrying the conflicting entity.
func NewConflict(conflict interface{}, format string, args ...interface{}) *Error {
	return &Error{Reason: ReasonAlreadyExists, Detail: fmt.Sprintf(format, args...), Conflict: conflict}
}

// IsReason reports whether err (or anything it wraps) is an *Error with the
// given reason.
func IsReason(err error, reason Reason) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Reason == reason
}
