package domain

import (
	"time"
)

// Loan represents one lending of a physical book copy to a member.
// A loan with a nil ReturnDate is active; setting ReturnDate closes it,
// exactly once.
type Loan struct {
	ID           int64      `db:"id"`
	BookID       int64      `db:"book_id"`
	MemberID     int64      `db:"member_id"`
	CheckoutDate time.Time  `db:"checkout_date"`
	DueDate      time.Time  `db:"due_date"`
	ReturnDate   *time.Time `db:"return_date"`
	CreatedAt    time.Time  `db:"created_at"`
}

// IsActive returns true while the loan has not been returned.
func (l *Loan) IsActive() bool {
	return l.ReturnDate == nil
}

// IsOverdue returns true if the loan is still active and its due date has
// passed as of the given date. A loan due exactly on asOf is not overdue.
func (l *Loan) IsOverdue(asOf time.Time) bool {
	return l.ReturnDate == nil && l.DueDate.Before(truncateToDay(asOf))
}

// Validate applies the pure field checks every proposed loan must pass
// before it touches storage. It has no side effects and never consults
// other loans; cross-row rules live in the lifecycle service and the
// store constraints.
func (l *Loan) Validate() error {
	if l.BookID <= 0 {
		return &ValidationError{Field: "bookId", Reason: "must be positive"}
	}
	if l.MemberID <= 0 {
		return &ValidationError{Field: "memberId", Reason: "must be positive"}
	}
	if l.CheckoutDate.IsZero() {
		return &ValidationError{Field: "checkoutDate", Reason: "is required"}
	}
	if l.DueDate.IsZero() {
		return &ValidationError{Field: "dueDate", Reason: "is required"}
	}
	if l.DueDate.Before(l.CheckoutDate) {
		return &ValidationError{Field: "dueDate", Reason: "must not precede checkout date"}
	}
	if l.ReturnDate != nil && l.ReturnDate.Before(l.CheckoutDate) {
		return &ValidationError{Field: "returnDate", Reason: "must not precede checkout date"}
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
