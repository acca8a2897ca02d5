package loans

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookloop/circulation/pkg/domain"
	"github.com/bookloop/circulation/pkg/repository"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	service *Service
	store   *repository.MemoryLoanStore
	books   *repository.MemoryDirectory
	members *repository.MemoryDirectory
}

// newFixture builds a service over the in-memory store with books and
// members 1..5 registered.
func newFixture(cfg Config) *fixture {
	store := repository.NewMemoryLoanStore()
	books := repository.NewMemoryDirectory(store, 1, 2, 3, 4, 5)
	members := repository.NewMemoryDirectory(store, 1, 2, 3, 4, 5)
	return &fixture{
		service: NewService(cfg, store, books, members),
		store:   store,
		books:   books,
		members: members,
	}
}

func TestCheckout_RoundTrip(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	d0 := date(2025, 3, 1)

	id, err := f.service.Checkout(ctx, 1, 1, d0, d0.AddDate(0, 0, 14))
	require.NoError(t, err)
	require.Positive(t, id)

	loan, err := f.service.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loan.BookID)
	assert.Equal(t, int64(1), loan.MemberID)
	assert.Nil(t, loan.ReturnDate)
	assert.True(t, loan.DueDate.Equal(d0.AddDate(0, 0, 14)))
}

func TestCheckout_RejectsBadInput(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	d0 := date(2025, 3, 1)

	tests := []struct {
		name     string
		bookID   int64
		memberID int64
		checkout time.Time
		due      time.Time
	}{
		{"zero book id", 0, 1, d0, d0.AddDate(0, 0, 7)},
		{"zero member id", 1, 0, d0, d0.AddDate(0, 0, 7)},
		{"missing checkout date", 1, 1, time.Time{}, d0},
		{"missing due date", 1, 1, d0, time.Time{}},
		{"due before checkout", 1, 1, d0, d0.AddDate(0, 0, -1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Checkout(ctx, tt.bookID, tt.memberID, tt.checkout, tt.due)
			assert.ErrorIs(t, err, domain.ErrInvalidLoan)
		})
	}

	all, err := f.service.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "rejected checkouts must not persist anything")
}

func TestCheckout_UnknownBookOrMember(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	d0 := date(2025, 3, 1)

	_, err := f.service.Checkout(ctx, 99, 1, d0, d0.AddDate(0, 0, 7))
	assert.ErrorIs(t, err, domain.ErrBookNotFound)

	_, err = f.service.Checkout(ctx, 1, 99, d0, d0.AddDate(0, 0, 7))
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestCheckout_ConflictOnDoubleCheckout(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	d0 := date(2025, 3, 1)
	due := d0.AddDate(0, 0, 14)

	first, err := f.service.Checkout(ctx, 1, 1, d0, due)
	require.NoError(t, err)

	_, err = f.service.Checkout(ctx, 1, 2, d0.AddDate(0, 0, 1), due.AddDate(0, 0, 1))
	require.ErrorIs(t, err, domain.ErrConflict)

	var cerr *domain.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, first, cerr.LoanID, "conflict must identify the competing loan")
	assert.True(t, cerr.DueDate.Equal(due))

	active, err := f.service.Active(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1, "no second active row may exist for the book")
}

func TestCheckout_MemberLoanCap(t *testing.T) {
	f := newFixture(Config{MaxActiveLoansPerMember: 2})
	ctx := context.Background()
	d0 := date(2025, 3, 1)
	due := d0.AddDate(0, 0, 14)

	_, err := f.service.Checkout(ctx, 1, 1, d0, due)
	require.NoError(t, err)
	loan2, err := f.service.Checkout(ctx, 2, 1, d0, due)
	require.NoError(t, err)

	_, err = f.service.Checkout(ctx, 3, 1, d0, due)
	require.ErrorIs(t, err, domain.ErrConflict)

	// Returning one loan frees capacity.
	ok, err := f.service.Return(ctx, loan2, due)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.service.Checkout(ctx, 3, 1, d0, due)
	assert.NoError(t, err)
}

func TestCheckout_CapDisabledByDefault(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	d0 := date(2025, 3, 1)
	due := d0.AddDate(0, 0, 14)

	for bookID := int64(1); bookID <= 5; bookID++ {
		_, err := f.service.Checkout(ctx, bookID, 1, d0, due)
		require.NoError(t, err)
	}
}

func TestCheckout_ConcurrentRace(t *testing.T) {
	f := newFixture(Config{})
	d0 := date(2025, 3, 1)
	due := d0.AddDate(0, 0, 14)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.Checkout(context.Background(), 1, int64(i%5+1), d0, due)
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, domain.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent checkout may win")
	assert.Equal(t, n-1, conflicts)

	active, err := f.service.Active(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestReturn_Idempotent(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	d0 := date(2025, 3, 1)
	returnDate := date(2025, 3, 10)

	id, err := f.service.Checkout(ctx, 1, 1, d0, d0.AddDate(0, 0, 14))
	require.NoError(t, err)

	ok, err := f.service.Return(ctx, id, returnDate)
	require.NoError(t, err)
	assert.True(t, ok, "first return takes effect")

	ok, err = f.service.Return(ctx, id, date(2025, 3, 20))
	require.NoError(t, err)
	assert.False(t, ok, "second return is a no-op")

	loan, err := f.service.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, loan.ReturnDate)
	assert.True(t, loan.ReturnDate.Equal(returnDate), "stored return date is set once and unchanged")
}

func TestReturn_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	d0 := date(2025, 3, 1)

	id, err := f.service.Checkout(ctx, 1, 1, d0, d0.AddDate(0, 0, 14))
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	results := make([]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := f.service.Return(context.Background(), id, date(2025, 3, 10))
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent return may report success")
}

func TestReturn_Validation(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	d0 := date(2025, 3, 1)

	id, err := f.service.Checkout(ctx, 1, 1, d0, d0.AddDate(0, 0, 14))
	require.NoError(t, err)

	_, err = f.service.Return(ctx, 0, d0)
	assert.ErrorIs(t, err, domain.ErrInvalidLoan)

	_, err = f.service.Return(ctx, id, d0.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, domain.ErrInvalidLoan, "return before checkout date")

	ok, err := f.service.Return(ctx, 999, d0)
	require.NoError(t, err)
	assert.False(t, ok, "missing loan reports false, not an error")
}

func TestUpdate_MergesDates(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	d0 := date(2025, 3, 1)

	id, err := f.service.Checkout(ctx, 1, 1, d0, d0.AddDate(0, 0, 14))
	require.NoError(t, err)

	newDue := d0.AddDate(0, 0, 28)
	loan, err := f.service.Update(ctx, id, UpdateParams{DueDate: &newDue})
	require.NoError(t, err)
	assert.True(t, loan.DueDate.Equal(newDue))
	assert.True(t, loan.CheckoutDate.Equal(d0), "untouched fields keep their values")

	badDue := d0.AddDate(0, 0, -5)
	_, err = f.service.Update(ctx, id, UpdateParams{DueDate: &badDue})
	assert.ErrorIs(t, err, domain.ErrInvalidLoan, "merged row is re-validated")
}

func TestUpdate_NotFound(t *testing.T) {
	f := newFixture(Config{})
	due := date(2025, 4, 1)

	_, err := f.service.Update(context.Background(), 42, UpdateParams{DueDate: &due})
	assert.ErrorIs(t, err, domain.ErrLoanNotFound)
}

func TestUpdate_ReturnDateIsMonotonic(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	d0 := date(2025, 3, 1)
	returned := date(2025, 3, 10)

	id, err := f.service.Checkout(ctx, 1, 1, d0, d0.AddDate(0, 0, 14))
	require.NoError(t, err)

	// Setting the return date while it is null is allowed.
	loan, err := f.service.Update(ctx, id, UpdateParams{ReturnDate: &returned})
	require.NoError(t, err)
	require.NotNil(t, loan.ReturnDate)

	// Changing it afterwards is not.
	later := date(2025, 3, 20)
	_, err = f.service.Update(ctx, id, UpdateParams{ReturnDate: &later})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Repeating the same value is a no-op, not a violation.
	_, err = f.service.Update(ctx, id, UpdateParams{ReturnDate: &returned})
	assert.NoError(t, err)
}

func TestDelete_GuardedByState(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	d0 := date(2025, 3, 1)

	id, err := f.service.Checkout(ctx, 1, 1, d0, d0.AddDate(0, 0, 14))
	require.NoError(t, err)

	deleted, err := f.service.Delete(ctx, id)
	assert.False(t, deleted, "active loan must not be deleted")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.service.GetByID(ctx, id)
	require.NoError(t, err, "active loan row is left untouched")

	ok, err := f.service.Return(ctx, id, date(2025, 3, 10))
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err = f.service.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = f.service.GetByID(ctx, id)
	assert.ErrorIs(t, err, domain.ErrLoanNotFound, "closed loan row is gone")

	deleted, err = f.service.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted, "deleting a missing loan reports false")
}

func TestQueries(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	d0 := date(2025, 1, 1)

	// Member 1: one loan due 2025-01-10, one returned.
	overdueLoan, err := f.service.Checkout(ctx, 1, 1, d0, date(2025, 1, 10))
	require.NoError(t, err)
	closedLoan, err := f.service.Checkout(ctx, 2, 1, d0, date(2025, 1, 20))
	require.NoError(t, err)
	ok, err := f.service.Return(ctx, closedLoan, date(2025, 1, 5))
	require.NoError(t, err)
	require.True(t, ok)

	// Member 2: one active loan with plenty of time left.
	freshLoan, err := f.service.Checkout(ctx, 3, 2, d0, date(2025, 6, 1))
	require.NoError(t, err)

	t.Run("by member", func(t *testing.T) {
		list, err := f.service.ByMember(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		list, err = f.service.ByMember(ctx, 4)
		require.NoError(t, err)
		assert.NotNil(t, list)
		assert.Empty(t, list, "no matches yields an empty slice, not nil")
	})

	t.Run("active", func(t *testing.T) {
		list, err := f.service.Active(ctx)
		require.NoError(t, err)
		ids := loanIDs(list)
		assert.ElementsMatch(t, []int64{overdueLoan, freshLoan}, ids)
	})

	t.Run("overdue boundary", func(t *testing.T) {
		list, err := f.service.Overdue(ctx, date(2025, 1, 10))
		require.NoError(t, err)
		assert.Empty(t, list, "due exactly on asOf is not overdue")

		list, err = f.service.Overdue(ctx, date(2025, 1, 11))
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, overdueLoan, list[0].ID)
	})

	t.Run("all", func(t *testing.T) {
		list, err := f.service.All(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 3)
	})
}

func loanIDs(list []*domain.Loan) []int64 {
	ids := make([]int64, 0, len(list))
	for _, loan := range list {
		ids = append(ids, loan.ID)
	}
	return ids
}
