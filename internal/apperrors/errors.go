// Package apperrors defines the error taxonomy shared by the loyalty services.
//
// Every service error unwraps to exactly one kind sentinel so callers can
// branch with errors.Is without knowing which service produced it:
//
//	if errors.Is(err, apperrors.ErrInvalidState) { ... }
package apperrors

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Kind sentinels. Use with errors.Is().
var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed, self-referential or non-positive values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState is returned when an operation is not valid for the
	// entity's current lifecycle state (e.g. re-processing a completed order).
	ErrInvalidState = errors.New("invalid state")

	// ErrStorage is returned for transient infrastructure failures. Retryable.
	ErrStorage = errors.New("storage error")

	// ErrConfiguration is fatal: the system cannot operate (e.g. no tiers defined).
	ErrConfiguration = errors.New("configuration error")
)

// Error carries the kind, the failing operation and an optional cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NotFound builds an ErrNotFound error.
func NotFound(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// InvalidInput builds an ErrInvalidInput error.
func InvalidInput(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrInvalidInput, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// InvalidState builds an ErrInvalidState error.
func InvalidState(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrInvalidState, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Configuration builds an ErrConfiguration error.
func Configuration(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Storage wraps an infrastructure failure. A nil err yields nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrStorage, Op: op, Err: err}
}

// FromDB classifies a gorm error. Unique violations become ErrInvalidState.
// Errors that already carry a kind are returned untouched.
func FromDB(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Error{Kind: ErrNotFound, Op: op, Err: err}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &Error{Kind: ErrInvalidState, Op: op, Msg: "already recorded", Err: err}
	}
	return Storage(op, err)
}

// IsRetryable reports whether the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsClientError reports whether the error is caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidState)
}

// IsNotFound reports whether the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
