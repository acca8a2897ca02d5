package domain

import (
	"errors"
	"fmt"
	"time"
)

// Lookup errors
var (
	ErrLoanNotFound   = errors.New("loan not found")
	ErrBookNotFound   = errors.New("book not found")
	ErrMemberNotFound = errors.New("member not found")
)

// Classification sentinels. Concrete failures carry context in
// ValidationError / ConflictError and unwrap to these, so callers can
// match the class with errors.Is without losing the details.
var (
	ErrInvalidLoan = errors.New("invalid loan")
	ErrConflict    = errors.New("conflict")
)

// ValidationError reports a malformed loan field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid loan: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidLoan
}

// ConflictError reports a business-rule violation. When the conflict is
// caused by a competing loan, LoanID and DueDate identify it so callers
// can build a useful message.
type ConflictError struct {
	Reason  string
	LoanID  int64
	DueDate time.Time
}

func (e *ConflictError) Error() string {
	if e.LoanID != 0 {
		return fmt.Sprintf("%s (loan %d, due %s)", e.Reason, e.LoanID, e.DueDate.Format("2006-01-02"))
	}
	return e.Reason
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}
