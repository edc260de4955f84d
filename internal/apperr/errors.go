// Package apperr defines the error kinds shared by the coherence core and its adapters.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error. The set is closed; callers switch on it.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindOutOfOrderRecord
	KindEstimationFailure
	KindNotFound
	KindInvalidInput
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrOutOfOrderRecord  = errors.New("out of order record")
	ErrEstimationFailure = errors.New("estimation failure")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindOutOfOrderRecord:
		return "out_of_order_record"
	case KindEstimationFailure:
		return "estimation_failure"
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindOutOfOrderRecord:
		return ErrOutOfOrderRecord
	case KindEstimationFailure:
		return ErrEstimationFailure
	case KindNotFound:
		return ErrNotFound
	case KindInvalidInput:
		return ErrInvalidInput
	default:
		return nil
	}
}

// Error carries a Kind, the failing operation and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// E builds an *Error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrOutOfOrderRecord):
		return KindOutOfOrderRecord
	case errors.Is(err, ErrEstimationFailure):
		return KindEstimationFailure
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	}
	return KindUnknown
}
