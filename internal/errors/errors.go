package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error so the dispatcher can turn it into the right
// private reply without inspecting message text.
type Kind string

const (
	KindInput      Kind = "INPUT"
	KindUsage      Kind = "USAGE"
	KindMention    Kind = "MENTION"
	KindPermission Kind = "PERMISSION"
	KindBudget     Kind = "BUDGET"
	KindState      Kind = "STATE"
	KindThrottle   Kind = "THROTTLE"
	KindStore      Kind = "STORE"
	KindInternal   Kind = "INTERNAL"
)

func (k Kind) String() string {
	return string(k)
}

// Error is a structured error carrying a kind, a user-facing message and an
// optional wrapped cause.
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

// Is matches on kind, so handlers can compare against sentinel errors built
// with New.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause, preserving the kind when the cause is already a
// structured error.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Kind: existing.Kind, Message: message, Cause: err}
	}
	return &Error{Kind: KindInternal, Message: message, Cause: err}
}

func WrapWithKind(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// KindOf extracts the kind from any error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of a structured error, or a
// generic message for anything else.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Something went wrong. Please try again."
}

// Convenience constructors for the common kinds.

func Input(message string) *Error      { return New(KindInput, message) }
func Usage(message string) *Error      { return New(KindUsage, message) }
func Mention(message string) *Error    { return New(KindMention, message) }
func Permission(message string) *Error { return New(KindPermission, message) }
func Budget(message string) *Error     { return New(KindBudget, message) }
func State(message string) *Error      { return New(KindState, message) }
func Throttle(message string) *Error   { return New(KindThrottle, message) }

func Inputf(format string, args ...interface{}) *Error {
	return Newf(KindInput, format, args...)
}

func Usagef(format string, args ...interface{}) *Error {
	return Newf(KindUsage, format, args...)
}

func Mentionf(format string, args ...interface{}) *Error {
	return Newf(KindMention, format, args...)
}

func Statef(format string, args ...interface{}) *Error {
	return Newf(KindState, format, args...)
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
