// Package apperr defines the error kinds returned by the job lifecycle and
// wallet services. Callers match kinds with errors.Is against the sentinels.
package apperr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindForbidden          Kind = "forbidden"
	KindInvalidState       Kind = "invalid_state"
	KindInvalidInput       Kind = "invalid_input"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindConflict           Kind = "conflict"
	KindInvariantViolation Kind = "invariant_violation"
	KindExternalTimeout    Kind = "external_timeout"
	KindExternalFailure    Kind = "external_failure"
)

// Error is a kinded error. Required and Available are set for KindInsufficientFunds.
type Error struct {
	Kind      Kind
	Message   string
	Required  decimal.Decimal
	Available decimal.Decimal
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Kind == KindInsufficientFunds && !e.Required.IsZero() {
		msg = fmt.Sprintf("%s (required %s, available %s)", msg, e.Required.StringFixed(2), e.Available.StringFixed(2))
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality against a sentinel (an Error without a message).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrInsufficientFunds  = &Error{Kind: KindInsufficientFunds}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrInvariantViolation = &Error{Kind: KindInvariantViolation}
	ErrExternalTimeout    = &Error{Kind: KindExternalTimeout}
	ErrExternalFailure    = &Error{Kind: KindExternalFailure}
)

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Invariant(format string, args ...any) error {
	return &Error{Kind: KindInvariantViolation, Message: fmt.Sprintf(format, args...)}
}

// InsufficientFunds reports a shortfall of required against available.
func InsufficientFunds(required, available decimal.Decimal) error {
	return &Error{Kind: KindInsufficientFunds, Message: "insufficient funds", Required: required, Available: available}
}

func ExternalTimeout(err error) error {
	return &Error{Kind: KindExternalTimeout, Message: "payment gateway timed out", Err: err}
}

func ExternalFailure(err error) error {
	return &Error{Kind: KindExternalFailure, Message: "payment gateway failed", Err: err}
}

// KindOf returns the kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
