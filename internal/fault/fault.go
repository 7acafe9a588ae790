package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class identifies which failure category an error belongs to.
type Class string

const (
	// ClassStructural marks violated data/contract/transition rules. Never retried.
	ClassStructural Class = "structural"

	// ClassTransient marks momentary external faults. Retried up to a budget.
	ClassTransient Class = "transient"

	// ClassBudget marks an exhausted execution budget. Fatal, reported as a
	// stop rather than a failure.
	ClassBudget Class = "budget"
)

// Error is a classified failure. Op names the operation that failed,
// Reason is a short human-readable explanation, and Err is the underlying
// cause when one exists.
type Error struct {
	Op     string
	Class  Class
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("[%s] %s: %s: %v", e.Class, e.Op, e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Class, e.Op, e.Err)
	default:
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Op, e.Reason)
	}
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewStructural creates a structural fault with a formatted reason.
func NewStructural(op, format string, args ...interface{}) *Error {
	return &Error{
		Op:     op,
		Class:  ClassStructural,
		Reason: fmt.Sprintf(format, args...),
	}
}

// WrapStructural wraps an underlying cause as a structural fault.
func WrapStructural(op string, err error) *Error {
	return &Error{
		Op:    op,
		Class: ClassStructural,
		Err:   err,
	}
}

// NewTransient wraps an underlying cause as a transient fault.
func NewTransient(op string, err error) *Error {
	return &Error{
		Op:    op,
		Class: ClassTransient,
		Err:   err,
	}
}

// NewBudget creates a budget-exhaustion fault with a formatted reason.
func NewBudget(op, format string, args ...interface{}) *Error {
	return &Error{
		Op:     op,
		Class:  ClassBudget,
		Reason: fmt.Sprintf(format, args...),
	}
}

// ClassOf reports the class of err. Already-classified errors keep their
// class. Attempt-scoped deadline expiry and network timeouts are transient.
// Cancellation and everything unrecognized is structural: an ambiguous
// failure must never be retried by default.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}

	if errors.Is(err, context.Canceled) {
		return ClassStructural
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	return ClassStructural
}

// IsStructural reports whether err classifies as structural.
func IsStructural(err error) bool {
	return err != nil && ClassOf(err) == ClassStructural
}

// IsTransient reports whether err classifies as transient.
func IsTransient(err error) bool {
	return err != nil && ClassOf(err) == ClassTransient
}

// IsBudget reports whether err classifies as budget exhaustion.
func IsBudget(err error) bool {
	return err != nil && ClassOf(err) == ClassBudget
}

// RetryableStatus reports whether an HTTP status code from an external
// backend is worth retrying. Rate limiting and server-side errors are
// transient; everything else in the 4xx range is a structural problem with
// the request itself.
func RetryableStatus(status int) bool {
	if status == 408 || status == 429 {
		return true
	}
	return status >= 500 && status < 600
}
