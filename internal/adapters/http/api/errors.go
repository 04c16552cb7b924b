package api

import (
	"errors"
	"fmt"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBackpressure = errors.New("backpressure")
	ErrUnavailable  = errors.New("dependency unavailable")
)

// Range validation failures surfaced to callers verbatim.
var (
	errInvalidFrom   = errors.New("invalid from; must be YYYY-MM-DD")
	errInvalidTo     = errors.New("invalid to; must be YYYY-MM-DD")
	errInvertedRange = errors.New("to precedes from")
	errRangeTooLarge = errors.New("date range too large")
)

// Wrap annotates err with the operation that produced it.
func Wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}

// NewKind returns a kind sentinel annotated with the operation.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// WrapKind ties err to a kind sentinel and the operation. errors.Is
// matches the kind; the cause stays readable in the message.
func WrapKind(op string, kind, err error) error {
	return fmt.Errorf("%s: %w: %v", op, kind, err)
}
