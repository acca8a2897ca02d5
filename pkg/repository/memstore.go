package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bookloop/circulation/pkg/domain"
)

// MemoryLoanStore is an in-memory loan store. It mirrors the Postgres
// store's semantics, including the one-active-loan-per-book invariant and
// the conditional return/delete writes, so service behavior can be
// exercised without a database.
type MemoryLoanStore struct {
	mu     sync.Mutex
	nextID int64
	loans  map[int64]domain.Loan
}

// NewMemoryLoanStore creates an empty in-memory loan store.
func NewMemoryLoanStore() *MemoryLoanStore {
	return &MemoryLoanStore{
		nextID: 1,
		loans:  make(map[int64]domain.Loan),
	}
}

// Create inserts a new loan, enforcing the same per-book uniqueness the
// partial index enforces in Postgres.
func (s *MemoryLoanStore) Create(_ context.Context, loan *domain.Loan) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loan.ReturnDate == nil {
		for _, existing := range s.loans {
			if existing.BookID == loan.BookID && existing.ReturnDate == nil {
				return 0, &domain.ConflictError{Reason: "book already checked out"}
			}
		}
	}

	stored := *loan
	stored.ID = s.nextID
	s.nextID++
	s.loans[stored.ID] = stored
	return stored.ID, nil
}

// GetByID retrieves a loan by id.
func (s *MemoryLoanStore) GetByID(_ context.Context, id int64) (*domain.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loan, ok := s.loans[id]
	if !ok {
		return nil, domain.ErrLoanNotFound
	}
	return copyLoan(loan), nil
}

// GetAll retrieves every loan, oldest first.
func (s *MemoryLoanStore) GetAll(_ context.Context) ([]*domain.Loan, error) {
	return s.filter(func(domain.Loan) bool { return true }), nil
}

// GetByMember retrieves all loans for a member.
func (s *MemoryLoanStore) GetByMember(_ context.Context, memberID int64) ([]*domain.Loan, error) {
	return s.filter(func(l domain.Loan) bool { return l.MemberID == memberID }), nil
}

// GetActive retrieves all loans that have not been returned.
func (s *MemoryLoanStore) GetActive(_ context.Context) ([]*domain.Loan, error) {
	return s.filter(func(l domain.Loan) bool { return l.ReturnDate == nil }), nil
}

// GetActiveByBook retrieves the active loan for a book.
func (s *MemoryLoanStore) GetActiveByBook(_ context.Context, bookID int64) (*domain.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, loan := range s.loans {
		if loan.BookID == bookID && loan.ReturnDate == nil {
			return copyLoan(loan), nil
		}
	}
	return nil, domain.ErrLoanNotFound
}

// CountActiveByMember counts a member's active loans.
func (s *MemoryLoanStore) CountActiveByMember(_ context.Context, memberID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, loan := range s.loans {
		if loan.MemberID == memberID && loan.ReturnDate == nil {
			count++
		}
	}
	return count, nil
}

// GetOverdue retrieves active loans whose due date precedes asOf.
func (s *MemoryLoanStore) GetOverdue(_ context.Context, asOf time.Time) ([]*domain.Loan, error) {
	return s.filter(func(l domain.Loan) bool {
		return l.ReturnDate == nil && l.DueDate.Before(asOf)
	}), nil
}

// MarkReturned closes a loan if it is still active. The whole check and
// write happens under one lock, matching the single conditional UPDATE
// of the SQL store.
func (s *MemoryLoanStore) MarkReturned(_ context.Context, id int64, returnDate time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loan, ok := s.loans[id]
	if !ok || loan.ReturnDate != nil {
		return false, nil
	}
	loan.ReturnDate = &returnDate
	s.loans[id] = loan
	return true, nil
}

// Update rewrites a loan's dates with the same monotonic return-date
// predicate as the SQL store.
func (s *MemoryLoanStore) Update(_ context.Context, loan *domain.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.loans[loan.ID]
	if !ok {
		return domain.ErrLoanNotFound
	}
	if stored.ReturnDate != nil && (loan.ReturnDate == nil || !loan.ReturnDate.Equal(*stored.ReturnDate)) {
		return &domain.ConflictError{Reason: "loan return date cannot be changed once set", LoanID: loan.ID}
	}
	stored.CheckoutDate = loan.CheckoutDate
	stored.DueDate = loan.DueDate
	stored.ReturnDate = loan.ReturnDate
	s.loans[loan.ID] = stored
	return nil
}

// DeleteClosed removes a loan only if it has been returned.
func (s *MemoryLoanStore) DeleteClosed(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loan, ok := s.loans[id]
	if !ok || loan.ReturnDate == nil {
		return false, nil
	}
	delete(s.loans, id)
	return true, nil
}

func (s *MemoryLoanStore) filter(keep func(domain.Loan) bool) []*domain.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*domain.Loan{}
	for _, loan := range s.loans {
		if keep(loan) {
			out = append(out, copyLoan(loan))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyLoan(loan domain.Loan) *domain.Loan {
	c := loan
	if loan.ReturnDate != nil {
		d := *loan.ReturnDate
		c.ReturnDate = &d
	}
	return &c
}

// MemoryDirectory is an in-memory book and member directory for use with
// MemoryLoanStore. The same instance satisfies both directory contracts
// the loan service consumes.
type MemoryDirectory struct {
	mu    sync.Mutex
	ids   map[int64]bool
	store *MemoryLoanStore
}

// NewMemoryDirectory creates a directory backed by the given loan store
// for status lookups.
func NewMemoryDirectory(store *MemoryLoanStore, ids ...int64) *MemoryDirectory {
	d := &MemoryDirectory{
		ids:   make(map[int64]bool, len(ids)),
		store: store,
	}
	for _, id := range ids {
		d.ids[id] = true
	}
	return d
}

// Add registers an id.
func (d *MemoryDirectory) Add(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids[id] = true
}

// Exists checks whether an id is registered.
func (d *MemoryDirectory) Exists(_ context.Context, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ids[id], nil
}

// IsCheckedOut checks whether the book has an active loan.
func (d *MemoryDirectory) IsCheckedOut(ctx context.Context, id int64) (bool, error) {
	_, err := d.store.GetActiveByBook(ctx, id)
	if err == nil {
		return true, nil
	}
	return false, nil
}

// HasLoanHistory checks whether any loan references the id. One
// directory instance serves as both book and member double, so it
// matches either side of the association.
func (d *MemoryDirectory) HasLoanHistory(ctx context.Context, id int64) (bool, error) {
	all, _ := d.store.GetAll(ctx)
	for _, loan := range all {
		if loan.BookID == id || loan.MemberID == id {
			return true, nil
		}
	}
	return false, nil
}

// HasActiveLoans checks whether the member has an active loan.
func (d *MemoryDirectory) HasActiveLoans(ctx context.Context, id int64) (bool, error) {
	count, err := d.store.CountActiveByMember(ctx, id)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
