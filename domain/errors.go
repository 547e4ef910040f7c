package domain

import (
	"errors"
	"fmt"
)

// Kind a stable error category
type Kind string

const (
	KindValidation                 Kind = "ValidationError"
	KindNotFound                   Kind = "NotFoundError"
	KindAuthorization              Kind = "AuthorizationError"
	KindInsufficientFunds          Kind = "InsufficientFunds"
	KindBelowMinimumBalance        Kind = "BelowMinimumBalance"
	KindNoApplicableCommissionRate Kind = "NoApplicableCommissionRate"
	KindNoApplicableExchangeRate   Kind = "NoApplicableExchangeRate"
	KindConversion                 Kind = "ConversionError"
	KindInvalidStateTransition     Kind = "InvalidStateTransition"
	KindConcurrencyConflict        Kind = "ConcurrencyConflict"
	KindInternal                   Kind = "InternalError"
)

// Error a business-rule failure with a stable kind and a readable message
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation                 = &Error{Kind: KindValidation}
	ErrNotFound                   = &Error{Kind: KindNotFound}
	ErrAuthorization              = &Error{Kind: KindAuthorization}
	ErrInsufficientFunds          = &Error{Kind: KindInsufficientFunds}
	ErrBelowMinimumBalance        = &Error{Kind: KindBelowMinimumBalance}
	ErrNoApplicableCommissionRate = &Error{Kind: KindNoApplicableCommissionRate}
	ErrNoApplicableExchangeRate   = &Error{Kind: KindNoApplicableExchangeRate}
	ErrConversion                 = &Error{Kind: KindConversion}
	ErrInvalidStateTransition     = &Error{Kind: KindInvalidStateTransition}
	ErrConcurrencyConflict        = &Error{Kind: KindConcurrencyConflict}
)

// Errorf builds an *Error of the given kind
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
