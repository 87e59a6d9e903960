package memstore_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/lending/memstore"
	. "github.com/AntonStoeckl/library-lending-go/testutil/lendingtest" //nolint:revive
)

func Test_AddBook(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewStore()
	fixture := FixtureBook(t, 3)
	fixture.AvailableCopies = 0

	book, err := store.AddBook(ctx, fixture)
	require.NoError(t, err)
	assert.Equal(t, 3, book.AvailableCopies, "new books have all copies available")

	byISBN, err := store.GetBookByISBN(ctx, fixture.ISBN)
	require.NoError(t, err)
	assert.Equal(t, book, byISBN)

	_, err = store.AddBook(ctx, fixture)
	assert.ErrorIs(t, err, lending.ErrDuplicateISBN)

	_, err = store.AddBook(ctx, FixtureBook(t, -1))
	assert.ErrorIs(t, err, memstore.ErrInvalidBook)

	_, err = store.GetBookByISBN(ctx, "unknown")
	assert.ErrorIs(t, err, lending.ErrBookNotFound)
}

func Test_AdjustAvailability_StaysWithinBounds(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewStore()
	book, err := store.AddBook(ctx, FixtureBook(t, 1))
	require.NoError(t, err)

	_, err = store.AdjustAvailability(ctx, GivenAdjustment(t, book.ID, +1))
	assert.ErrorIs(t, err, lending.ErrInvariantViolation)

	adjusted, err := store.AdjustAvailability(ctx, GivenAdjustment(t, book.ID, -1))
	require.NoError(t, err)
	assert.Equal(t, 0, adjusted.AvailableCopies)

	_, err = store.AdjustAvailability(ctx, GivenAdjustment(t, book.ID, -1))
	assert.ErrorIs(t, err, lending.ErrBookUnavailable)

	_, err = store.AdjustAvailability(ctx, GivenAdjustment(t, GivenUniqueID(t), -1))
	assert.ErrorIs(t, err, lending.ErrBookNotFound)
}

func Test_AdjustAvailability_AppliesEachKeyOnce(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewStore()
	book, err := store.AddBook(ctx, FixtureBook(t, 3))
	require.NoError(t, err)
	decrement := GivenAdjustment(t, book.ID, -1)

	first, err := store.AdjustAvailability(ctx, decrement)
	require.NoError(t, err)
	again, err := store.AdjustAvailability(ctx, decrement)
	require.NoError(t, err)

	assert.Equal(t, 2, first.AvailableCopies)
	assert.Equal(t, 2, again.AvailableCopies, "a repeated key must not be applied twice")

	reverted, err := store.RevertAdjustment(ctx, decrement)
	require.NoError(t, err)
	assert.Equal(t, 3, reverted.AvailableCopies)

	reverted, err = store.RevertAdjustment(ctx, decrement)
	require.NoError(t, err)
	assert.Equal(t, 3, reverted.AvailableCopies, "a repeated revert must not be applied twice")

	_, err = store.AdjustAvailability(ctx, decrement)
	assert.ErrorIs(t, err, lending.ErrAdjustmentReverted)
	assert.ErrorIs(t, err, lending.ErrInvariantViolation)
}

func Test_RevertAdjustment_OfUnknownKey_BlocksLaterApply(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewStore()
	book, err := store.AddBook(ctx, FixtureBook(t, 2))
	require.NoError(t, err)
	increment := GivenAdjustment(t, book.ID, +1)

	unchanged, err := store.RevertAdjustment(ctx, increment)
	require.NoError(t, err)
	assert.Equal(t, 2, unchanged.AvailableCopies)

	_, err = store.AdjustAvailability(ctx, increment)
	assert.ErrorIs(t, err, lending.ErrAdjustmentReverted)

	stored, err := store.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.AvailableCopies)
}

func Test_Holdings(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewStore()
	member, err := store.AddMember(ctx, FixtureMember(t, true))
	require.NoError(t, err)
	bookID := GivenUniqueID(t)
	first := GivenHolding(t, member.ID, bookID)
	second := GivenHolding(t, member.ID, bookID)

	require.NoError(t, store.AddHolding(ctx, first))
	require.NoError(t, store.AddHolding(ctx, first), "adding the same holding again is a no-op")
	require.NoError(t, store.AddHolding(ctx, second))

	stored, err := store.GetMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.HoldingCount(bookID))

	require.NoError(t, store.RemoveHolding(ctx, first))
	require.NoError(t, store.RemoveHolding(ctx, first), "releasing a released holding succeeds")

	stored, err = store.GetMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.HoldingCount(bookID))

	require.NoError(t, store.AddHolding(ctx, first), "a released holding can be restored")
	stored, err = store.GetMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bookID, bookID}, stored.Holdings)

	err = store.RemoveHolding(ctx, GivenHolding(t, member.ID, bookID))
	assert.ErrorIs(t, err, lending.ErrHoldingNotFound)
	assert.ErrorIs(t, err, lending.ErrInvariantViolation)
	assert.ErrorIs(t, store.AddHolding(ctx, GivenHolding(t, GivenUniqueID(t), bookID)), lending.ErrMemberNotFound)

	require.NoError(t, store.SetMemberActive(ctx, member.ID, false))
	stored, err = store.GetMember(ctx, member.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func Test_Ledger_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewStore()
	borrowDate := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	record := lending.BorrowRecord{
		ID:         GivenUniqueID(t),
		BookID:     GivenUniqueID(t),
		MemberID:   GivenUniqueID(t),
		BorrowDate: borrowDate,
		DueDate:    borrowDate.Add(Days(14)),
		Status:     lending.StatusBorrowed,
	}

	require.NoError(t, store.Insert(ctx, record))
	assert.ErrorIs(t, store.Insert(ctx, record), lending.ErrInvariantViolation)
	assert.ErrorIs(t, store.Reopen(ctx, record.ID), lending.ErrInvariantViolation)

	returned, err := store.MarkReturned(ctx, record.ID, borrowDate.Add(Days(15)), 5)
	require.NoError(t, err)
	assert.Equal(t, lending.StatusReturned, returned.Status)
	assert.Equal(t, int64(5), returned.Fine)

	_, err = store.MarkReturned(ctx, record.ID, borrowDate.Add(Days(16)), 10)
	assert.ErrorIs(t, err, lending.ErrAlreadyReturned)
	assert.ErrorIs(t, store.Void(ctx, record.ID), lending.ErrAlreadyReturned)

	require.NoError(t, store.Reopen(ctx, record.ID))
	reopened, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record, reopened)

	require.NoError(t, store.Void(ctx, record.ID))
	_, err = store.Get(ctx, record.ID)
	assert.ErrorIs(t, err, lending.ErrRecordNotFound)
}

func Test_List_SortsByReturnDate_WithOpenLoansFirst(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewStore()
	start := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

	var ids [3]lending.BorrowRecord
	for i := range ids {
		ids[i] = lending.BorrowRecord{
			ID:         GivenUniqueID(t),
			BookID:     GivenUniqueID(t),
			MemberID:   GivenUniqueID(t),
			BorrowDate: start,
			DueDate:    start.Add(Days(14)),
			Status:     lending.StatusBorrowed,
		}
		require.NoError(t, store.Insert(ctx, ids[i]))
	}

	_, err := store.MarkReturned(ctx, ids[0].ID, start.Add(Days(5)), 0)
	require.NoError(t, err)
	_, err = store.MarkReturned(ctx, ids[1].ID, start.Add(Days(2)), 0)
	require.NoError(t, err)

	page, err := store.List(ctx, lending.BuildRecordQuery().SortedBy(lending.SortByReturnDate, lending.Ascending))
	require.NoError(t, err)
	require.Len(t, page.Records, 3)
	assert.Equal(t, ids[2].ID, page.Records[0].ID)
	assert.Equal(t, ids[1].ID, page.Records[1].ID)
	assert.Equal(t, ids[0].ID, page.Records[2].ID)

	page, err = store.List(ctx, lending.BuildRecordQuery().SortedBy(lending.SortByReturnDate, lending.Descending))
	require.NoError(t, err)
	assert.Equal(t, ids[0].ID, page.Records[0].ID)
	assert.Equal(t, ids[2].ID, page.Records[2].ID)
}

func Test_List_RejectsPageWithOverflowingOffset(t *testing.T) {
	store := memstore.NewStore()

	assert.NotPanics(t, func() {
		_, err := store.List(context.Background(), lending.BuildRecordQuery().OnPage(math.MaxInt, lending.MaxPageSize))
		assert.ErrorIs(t, err, lending.ErrInvalidRecordQuery)
	})
}

func Test_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := memstore.NewStore()

	_, err := store.GetBook(ctx, GivenUniqueID(t))
	assert.ErrorIs(t, err, context.Canceled)
}
