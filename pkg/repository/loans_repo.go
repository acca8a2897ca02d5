package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/bookloop/circulation/pkg/domain"
)

// Name of the partial unique index over active loans, see
// migrations/0001_init.sql. The index is the final authority for the
// one-active-loan-per-book invariant; service-level prechecks are only
// there for friendlier messages.
const oneActivePerBookConstraint = "loans_one_active_per_book"

const pqUniqueViolation = "23505"

const loanColumns = `id, book_id, member_id, checkout_date, due_date, return_date, created_at`

// LoansRepository handles loan persistence.
type LoansRepository struct {
	db *sqlx.DB
}

// NewLoansRepository creates a new loans repository.
func NewLoansRepository(db *sqlx.DB) *LoansRepository {
	return &LoansRepository{db: db}
}

// Create inserts a new active loan and returns the generated id.
// A concurrent checkout of the same book surfaces as a ConflictError
// raised by the partial unique index, not as a driver error.
func (r *LoansRepository) Create(ctx context.Context, loan *domain.Loan) (int64, error) {
	query := `
		INSERT INTO loans (book_id, member_id, checkout_date, due_date, return_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, query,
		loan.BookID, loan.MemberID, loan.CheckoutDate, loan.DueDate, loan.ReturnDate, loan.CreatedAt,
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation && pqErr.Constraint == oneActivePerBookConstraint {
			return 0, &domain.ConflictError{Reason: "book already checked out"}
		}
		return 0, err
	}
	return id, nil
}

// GetByID retrieves a loan by id.
func (r *LoansRepository) GetByID(ctx context.Context, id int64) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	loan := &domain.Loan{}
	err := r.db.GetContext(ctx, loan, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// GetAll retrieves every loan, oldest first.
func (r *LoansRepository) GetAll(ctx context.Context) ([]*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans ORDER BY id`
	return r.selectLoans(ctx, query)
}

// GetByMember retrieves all loans for a member, active and closed.
func (r *LoansRepository) GetByMember(ctx context.Context, memberID int64) ([]*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE member_id = $1 ORDER BY id`
	return r.selectLoans(ctx, query, memberID)
}

// GetActive retrieves all loans that have not been returned.
func (r *LoansRepository) GetActive(ctx context.Context) ([]*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE return_date IS NULL ORDER BY id`
	return r.selectLoans(ctx, query)
}

// GetActiveByBook retrieves the active loan for a book, or ErrLoanNotFound
// when the book is not checked out. At most one row can match thanks to
// the partial unique index.
func (r *LoansRepository) GetActiveByBook(ctx context.Context, bookID int64) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE book_id = $1 AND return_date IS NULL`
	loan := &domain.Loan{}
	err := r.db.GetContext(ctx, loan, query, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// CountActiveByMember counts a member's loans that have not been returned.
func (r *LoansRepository) CountActiveByMember(ctx context.Context, memberID int64) (int, error) {
	query := `SELECT COUNT(*) FROM loans WHERE member_id = $1 AND return_date IS NULL`
	var count int
	err := r.db.GetContext(ctx, &count, query, memberID)
	return count, err
}

// GetOverdue retrieves active loans whose due date has passed as of the
// given date. A loan due exactly on asOf is not overdue.
func (r *LoansRepository) GetOverdue(ctx context.Context, asOf time.Time) ([]*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE return_date IS NULL AND due_date < $1 ORDER BY due_date`
	return r.selectLoans(ctx, query, asOf)
}

// MarkReturned closes a loan with a single conditional statement. It
// returns true only when this call performed the transition; false means
// the loan does not exist or was already returned. Two concurrent calls
// can never both see true.
func (r *LoansRepository) MarkReturned(ctx context.Context, id int64, returnDate time.Time) (bool, error) {
	query := `
		UPDATE loans
		SET return_date = $2
		WHERE id = $1 AND return_date IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id, returnDate)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Update rewrites a loan's dates. The predicate keeps the return date
// monotonic: once set it can be repeated verbatim but never changed or
// cleared. Returns ErrLoanNotFound when no row matched and the loan is
// missing, or a ConflictError when the row exists but its return date
// blocked the write.
func (r *LoansRepository) Update(ctx context.Context, loan *domain.Loan) error {
	query := `
		UPDATE loans
		SET checkout_date = $2, due_date = $3, return_date = $4
		WHERE id = $1 AND (return_date IS NULL OR return_date = $4)
	`
	result, err := r.db.ExecContext(ctx, query, loan.ID, loan.CheckoutDate, loan.DueDate, loan.ReturnDate)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := r.GetByID(ctx, loan.ID); errors.Is(err, domain.ErrLoanNotFound) {
			return domain.ErrLoanNotFound
		} else if err != nil {
			return err
		}
		return &domain.ConflictError{Reason: "loan return date cannot be changed once set", LoanID: loan.ID}
	}
	return nil
}

// DeleteClosed removes a loan only if it has been returned. Returns true
// when a row was actually removed; an active loan is left untouched.
func (r *LoansRepository) DeleteClosed(ctx context.Context, id int64) (bool, error) {
	query := `DELETE FROM loans WHERE id = $1 AND return_date IS NOT NULL`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *LoansRepository) selectLoans(ctx context.Context, query string, args ...any) ([]*domain.Loan, error) {
	loans := []*domain.Loan{}
	if err := r.db.SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, err
	}
	return loans, nil
}
