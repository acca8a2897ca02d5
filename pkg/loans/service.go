// Package loans implements the loan lifecycle: checkout, return, update,
// delete, and the read-side queries. The service enforces the business
// rules that exceed plain storage constraints (existence of book and
// member, per-member loan caps) and relies on the store's conditional
// writes for everything that has to hold under concurrency.
package loans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookloop/circulation/pkg/domain"
)

// LoanStore is the persistence contract the service drives. The SQL
// implementation lives in pkg/repository; tests substitute an in-memory
// double.
type LoanStore interface {
	Create(ctx context.Context, loan *domain.Loan) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Loan, error)
	GetAll(ctx context.Context) ([]*domain.Loan, error)
	GetByMember(ctx context.Context, memberID int64) ([]*domain.Loan, error)
	GetActive(ctx context.Context) ([]*domain.Loan, error)
	GetActiveByBook(ctx context.Context, bookID int64) (*domain.Loan, error)
	CountActiveByMember(ctx context.Context, memberID int64) (int, error)
	GetOverdue(ctx context.Context, asOf time.Time) ([]*domain.Loan, error)
	MarkReturned(ctx context.Context, id int64, returnDate time.Time) (bool, error)
	Update(ctx context.Context, loan *domain.Loan) error
	DeleteClosed(ctx context.Context, id int64) (bool, error)
}

// BookDirectory answers existence and status questions about books.
type BookDirectory interface {
	Exists(ctx context.Context, id int64) (bool, error)
	IsCheckedOut(ctx context.Context, id int64) (bool, error)
	HasLoanHistory(ctx context.Context, id int64) (bool, error)
}

// MemberDirectory answers existence and status questions about members.
type MemberDirectory interface {
	Exists(ctx context.Context, id int64) (bool, error)
	HasLoanHistory(ctx context.Context, id int64) (bool, error)
	HasActiveLoans(ctx context.Context, id int64) (bool, error)
}

// Config holds loan policy settings.
type Config struct {
	// MaxActiveLoansPerMember caps how many active loans a single member
	// may hold. Zero disables the cap.
	MaxActiveLoansPerMember int
}

// Service orchestrates the loan lifecycle.
type Service struct {
	config  Config
	store   LoanStore
	books   BookDirectory
	members MemberDirectory
}

// NewService creates a new loan lifecycle service.
func NewService(config Config, store LoanStore, books BookDirectory, members MemberDirectory) *Service {
	return &Service{
		config:  config,
		store:   store,
		books:   books,
		members: members,
	}
}

// Checkout creates a new active loan and returns its id.
//
// The active-loan precheck here only exists to produce a message carrying
// the competing loan's id and due date; the store's partial unique index
// is what actually prevents a double checkout, and a constraint rejection
// surfaces as the same ConflictError.
func (s *Service) Checkout(ctx context.Context, bookID, memberID int64, checkoutDate, dueDate time.Time) (int64, error) {
	loan := &domain.Loan{
		BookID:       bookID,
		MemberID:     memberID,
		CheckoutDate: checkoutDate,
		DueDate:      dueDate,
		CreatedAt:    time.Now(),
	}
	if err := loan.Validate(); err != nil {
		return 0, err
	}

	if err := s.requireBook(ctx, bookID); err != nil {
		return 0, err
	}
	if err := s.requireMember(ctx, memberID); err != nil {
		return 0, err
	}

	if existing, err := s.store.GetActiveByBook(ctx, bookID); err == nil {
		return 0, &domain.ConflictError{
			Reason:  "book already checked out",
			LoanID:  existing.ID,
			DueDate: existing.DueDate,
		}
	} else if !errors.Is(err, domain.ErrLoanNotFound) {
		return 0, fmt.Errorf("check active loan for book %d: %w", bookID, err)
	}

	if s.config.MaxActiveLoansPerMember > 0 {
		count, err := s.store.CountActiveByMember(ctx, memberID)
		if err != nil {
			return 0, fmt.Errorf("count active loans for member %d: %w", memberID, err)
		}
		if count >= s.config.MaxActiveLoansPerMember {
			return 0, &domain.ConflictError{Reason: "member loan limit reached"}
		}
	}

	id, err := s.store.Create(ctx, loan)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race to a concurrent checkout. Re-read the winner so
			// the error carries the same context the precheck would have.
			if existing, lookupErr := s.store.GetActiveByBook(ctx, bookID); lookupErr == nil {
				return 0, &domain.ConflictError{
					Reason:  "book already checked out",
					LoanID:  existing.ID,
					DueDate: existing.DueDate,
				}
			}
			return 0, &domain.ConflictError{Reason: "book already checked out"}
		}
		return 0, fmt.Errorf("create loan: %w", err)
	}
	return id, nil
}

// Return closes a loan. It reports true when this call performed the
// transition and false when the loan does not exist or was already
// returned; two concurrent returns yield exactly one true.
func (s *Service) Return(ctx context.Context, loanID int64, returnDate time.Time) (bool, error) {
	if loanID <= 0 {
		return false, &domain.ValidationError{Field: "loanId", Reason: "must be positive"}
	}
	if returnDate.IsZero() {
		return false, &domain.ValidationError{Field: "returnDate", Reason: "is required"}
	}

	loan, err := s.store.GetByID(ctx, loanID)
	if errors.Is(err, domain.ErrLoanNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load loan %d: %w", loanID, err)
	}
	if returnDate.Before(loan.CheckoutDate) {
		return false, &domain.ValidationError{Field: "returnDate", Reason: "must not precede checkout date"}
	}

	ok, err := s.store.MarkReturned(ctx, loanID, returnDate)
	if err != nil {
		return false, fmt.Errorf("mark loan %d returned: %w", loanID, err)
	}
	return ok, nil
}

// UpdateParams carries the mutable loan fields for Update. Nil fields are
// left unchanged.
type UpdateParams struct {
	CheckoutDate *time.Time
	DueDate      *time.Time
	ReturnDate   *time.Time
}

// Update merges new dates onto an existing loan, re-validates the result,
// and persists it. Associations (book, member) are immutable after
// creation and have no place here. A return date that is already set can
// never be changed or cleared.
func (s *Service) Update(ctx context.Context, loanID int64, params UpdateParams) (*domain.Loan, error) {
	if loanID <= 0 {
		return nil, &domain.ValidationError{Field: "loanId", Reason: "must be positive"}
	}

	loan, err := s.store.GetByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, domain.ErrLoanNotFound) {
			return nil, domain.ErrLoanNotFound
		}
		return nil, fmt.Errorf("load loan %d: %w", loanID, err)
	}

	if loan.ReturnDate != nil && params.ReturnDate != nil && !params.ReturnDate.Equal(*loan.ReturnDate) {
		return nil, &domain.ConflictError{Reason: "loan return date cannot be changed once set", LoanID: loan.ID}
	}

	if params.CheckoutDate != nil {
		loan.CheckoutDate = *params.CheckoutDate
	}
	if params.DueDate != nil {
		loan.DueDate = *params.DueDate
	}
	if params.ReturnDate != nil {
		loan.ReturnDate = params.ReturnDate
	}
	if err := loan.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, loan); err != nil {
		if errors.Is(err, domain.ErrLoanNotFound) || errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("update loan %d: %w", loanID, err)
	}
	return loan, nil
}

// Delete removes a closed loan. It reports false when the loan does not
// exist and fails with a ConflictError when the loan is still active;
// history for an active loan is never destroyed.
func (s *Service) Delete(ctx context.Context, loanID int64) (bool, error) {
	if loanID <= 0 {
		return false, &domain.ValidationError{Field: "loanId", Reason: "must be positive"}
	}

	deleted, err := s.store.DeleteClosed(ctx, loanID)
	if err != nil {
		return false, fmt.Errorf("delete loan %d: %w", loanID, err)
	}
	if deleted {
		return true, nil
	}

	// Nothing was removed: either the loan is missing or it is still
	// active. The conditional delete already made the decision atomically;
	// this lookup only classifies the failure.
	loan, err := s.store.GetByID(ctx, loanID)
	if errors.Is(err, domain.ErrLoanNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load loan %d: %w", loanID, err)
	}
	return false, &domain.ConflictError{Reason: "loan is still active", LoanID: loan.ID, DueDate: loan.DueDate}
}

// GetByID retrieves a single loan.
func (s *Service) GetByID(ctx context.Context, loanID int64) (*domain.Loan, error) {
	if loanID <= 0 {
		return nil, &domain.ValidationError{Field: "loanId", Reason: "must be positive"}
	}
	return s.store.GetByID(ctx, loanID)
}

// All retrieves every loan.
func (s *Service) All(ctx context.Context) ([]*domain.Loan, error) {
	return s.store.GetAll(ctx)
}

// ByMember retrieves all loans for a member, active and closed.
func (s *Service) ByMember(ctx context.Context, memberID int64) ([]*domain.Loan, error) {
	if memberID <= 0 {
		return nil, &domain.ValidationError{Field: "memberId", Reason: "must be positive"}
	}
	return s.store.GetByMember(ctx, memberID)
}

// Active retrieves all loans that have not been returned.
func (s *Service) Active(ctx context.Context) ([]*domain.Loan, error) {
	return s.store.GetActive(ctx)
}

// Overdue retrieves active loans whose due date precedes asOf.
func (s *Service) Overdue(ctx context.Context, asOf time.Time) ([]*domain.Loan, error) {
	if asOf.IsZero() {
		return nil, &domain.ValidationError{Field: "asOf", Reason: "is required"}
	}
	return s.store.GetOverdue(ctx, asOf)
}

func (s *Service) requireBook(ctx context.Context, bookID int64) error {
	exists, err := s.books.Exists(ctx, bookID)
	if err != nil {
		return fmt.Errorf("look up book %d: %w", bookID, err)
	}
	if !exists {
		return domain.ErrBookNotFound
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, memberID int64) error {
	exists, err := s.members.Exists(ctx, memberID)
	if err != nil {
		return fmt.Errorf("look up member %d: %w", memberID, err)
	}
	if !exists {
		return domain.ErrMemberNotFound
	}
	return nil
}
