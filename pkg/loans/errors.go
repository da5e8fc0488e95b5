package loans

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrBookUnavailable is returned when the requested book is already out
	// on an active loan.
	ErrBookUnavailable = errors.New("the book is currently not available")

	// ErrBorrowLimitExceeded is returned when the borrower already holds the
	// maximum number of active loans.
	ErrBorrowLimitExceeded = errors.New("maximum borrowing limit reached")

	// ErrUniquenessViolation is returned when the store rejects a duplicate
	// key (loan number, book identity, card number).
	ErrUniquenessViolation = errors.New("duplicate key")

	// ErrPermissionDenied is returned when the actor is outside the
	// privilege or ownership scope of the operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when a referenced loan, fine, book or
	// borrower does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLoanClosed is returned on attempts to mutate a loan that has
	// already been closed. Closing is a one-way transition.
	ErrLoanClosed = errors.New("loan is already closed")
)

// ValidationError names the field that failed validation so the caller can
// surface it next to the offending input.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalidField(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// isDuplicate reports whether a store error is a unique-constraint
// rejection. Postgres and sqlite phrase it differently and gorm only
// translates it when configured to, so the message is checked as well.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
