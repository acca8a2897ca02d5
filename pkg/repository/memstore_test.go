package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookloop/circulation/pkg/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// The store must hold the per-book invariant on its own, even for writers
// that bypass the lifecycle service.
func TestMemoryLoanStore_RejectsSecondActiveLoanForBook(t *testing.T) {
	store := NewMemoryLoanStore()
	ctx := context.Background()

	_, err := store.Create(ctx, &domain.Loan{
		BookID: 1, MemberID: 1,
		CheckoutDate: date(2025, 1, 1), DueDate: date(2025, 1, 15),
	})
	require.NoError(t, err)

	_, err = store.Create(ctx, &domain.Loan{
		BookID: 1, MemberID: 2,
		CheckoutDate: date(2025, 1, 2), DueDate: date(2025, 1, 16),
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// A closed loan for the same book is fine.
	returned := date(2025, 1, 3)
	_, err = store.Create(ctx, &domain.Loan{
		BookID: 1, MemberID: 2,
		CheckoutDate: date(2025, 1, 2), DueDate: date(2025, 1, 16), ReturnDate: &returned,
	})
	assert.NoError(t, err)
}

func TestMemoryLoanStore_MarkReturnedIsConditional(t *testing.T) {
	store := NewMemoryLoanStore()
	ctx := context.Background()

	id, err := store.Create(ctx, &domain.Loan{
		BookID: 1, MemberID: 1,
		CheckoutDate: date(2025, 1, 1), DueDate: date(2025, 1, 15),
	})
	require.NoError(t, err)

	ok, err := store.MarkReturned(ctx, id, date(2025, 1, 10))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.MarkReturned(ctx, id, date(2025, 1, 12))
	require.NoError(t, err)
	assert.False(t, ok)

	loan, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, loan.ReturnDate)
	assert.True(t, loan.ReturnDate.Equal(date(2025, 1, 10)))
}

func TestMemoryLoanStore_DeleteClosedOnly(t *testing.T) {
	store := NewMemoryLoanStore()
	ctx := context.Background()

	id, err := store.Create(ctx, &domain.Loan{
		BookID: 1, MemberID: 1,
		CheckoutDate: date(2025, 1, 1), DueDate: date(2025, 1, 15),
	})
	require.NoError(t, err)

	ok, err := store.DeleteClosed(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "active loan stays")

	_, err = store.MarkReturned(ctx, id, date(2025, 1, 10))
	require.NoError(t, err)

	ok, err = store.DeleteClosed(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.GetByID(ctx, id)
	assert.ErrorIs(t, err, domain.ErrLoanNotFound)
}

func TestMemoryLoanStore_ReadsCopyRows(t *testing.T) {
	store := NewMemoryLoanStore()
	ctx := context.Background()

	id, err := store.Create(ctx, &domain.Loan{
		BookID: 1, MemberID: 1,
		CheckoutDate: date(2025, 1, 1), DueDate: date(2025, 1, 15),
	})
	require.NoError(t, err)

	loan, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	loan.DueDate = date(2030, 1, 1)

	fresh, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, fresh.DueDate.Equal(date(2025, 1, 15)), "mutating a result must not affect the store")
}
