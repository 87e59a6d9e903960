package lending_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/lending/memstore"
	. "github.com/AntonStoeckl/library-lending-go/testutil/lendingtest" //nolint:revive
)

var fakeNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func givenEngine(t *testing.T, options ...lending.Option) (*lending.Engine, *memstore.Store, *FakeClock) {
	t.Helper()

	store := memstore.NewStore()
	clock := NewFakeClock(fakeNow)

	engine, err := lending.NewEngine(store, store, store, append([]lending.Option{lending.WithClock(clock.Now)}, options...)...)
	require.NoError(t, err)

	return engine, store, clock
}

func givenBook(t *testing.T, store *memstore.Store, totalCopies int) lending.Book {
	t.Helper()

	book, err := store.AddBook(context.Background(), FixtureBook(t, totalCopies))
	require.NoError(t, err, "error in arranging test data")

	return book
}

func givenMember(t *testing.T, store *memstore.Store, active bool) lending.Member {
	t.Helper()

	member, err := store.AddMember(context.Background(), FixtureMember(t, active))
	require.NoError(t, err, "error in arranging test data")

	return member
}

func Test_NewEngine_RejectsInvalidConfiguration(t *testing.T) {
	store := memstore.NewStore()

	_, err := lending.NewEngine(nil, store, store)
	assert.ErrorIs(t, err, lending.ErrNilStore)

	_, err = lending.NewEngine(store, store, store, lending.WithLoanPeriod(0))
	assert.ErrorIs(t, err, lending.ErrInvalidLoanPeriod)

	_, err = lending.NewEngine(store, store, store, lending.WithStoreTimeout(0))
	assert.ErrorIs(t, err, lending.ErrNonPositiveStoreTimeout)

	_, err = lending.NewEngine(store, store, store, lending.WithFinePerDay(-1))
	assert.ErrorIs(t, err, lending.ErrNegativeFinePerDay)

	_, err = lending.NewEngine(store, store, store, lending.WithRetryOptions(lending.WithJitterFactor(2)))
	assert.ErrorIs(t, err, lending.ErrInvalidJitterFactor)
}

func Test_Borrow_Return_Borrow_Scenario(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := givenEngine(t)
	book := givenBook(t, store, 1)
	firstMember := givenMember(t, store, true)
	secondMember := givenMember(t, store, true)

	record, err := engine.Borrow(ctx, book.ID, firstMember.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, AssertBookInvariant(t, ctx, store, book.ID).AvailableCopies)
	assert.Equal(t, lending.StatusBorrowed, record.Status)
	assert.Equal(t, fakeNow, record.BorrowDate)
	assert.Equal(t, fakeNow.Add(Days(lending.DefaultLoanDays)), record.DueDate)
	assert.Nil(t, record.ReturnDate)

	_, err = engine.Borrow(ctx, book.ID, secondMember.ID, 0)
	assert.ErrorIs(t, err, lending.ErrBookUnavailable)
	assert.Equal(t, "Conflict:Unavailable", lending.CodeOf(err))

	returned, err := engine.Return(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, lending.StatusReturned, returned.Status)
	assert.Equal(t, int64(0), returned.Fine)
	require.NotNil(t, returned.ReturnDate)
	assert.Equal(t, 1, AssertBookInvariant(t, ctx, store, book.ID).AvailableCopies)

	_, err = engine.Borrow(ctx, book.ID, secondMember.ID, 0)
	assert.NoError(t, err)

	AssertHoldingsMatchLedger(t, ctx, store, store, firstMember.ID)
	AssertHoldingsMatchLedger(t, ctx, store, store, secondMember.ID)
}

func Test_Borrow_ChecksPreconditionsInOrder(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := givenEngine(t)
	available := givenBook(t, store, 1)
	unavailable := givenBook(t, store, 0)
	active := givenMember(t, store, true)
	inactive := givenMember(t, store, false)
	missing := GivenUniqueID(t)

	testCases := []struct {
		name     string
		bookID   uuid.UUID
		memberID uuid.UUID
		loanDays int
		expected error
	}{
		{"missing book wins over missing member", missing, missing, 0, lending.ErrBookNotFound},
		{"unavailable book wins over inactive member", unavailable.ID, inactive.ID, 0, lending.ErrBookUnavailable},
		{"unavailable book wins over missing member", unavailable.ID, missing, 0, lending.ErrBookUnavailable},
		{"missing member", available.ID, missing, 0, lending.ErrMemberNotFound},
		{"inactive member", available.ID, inactive.ID, 0, lending.ErrInactiveMember},
		{"negative loan period", available.ID, active.ID, -3, lending.ErrInvalidLoanPeriod},
		{"missing identifier", uuid.Nil, active.ID, 0, lending.ErrMissingIdentifier},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Borrow(ctx, tc.bookID, tc.memberID, tc.loanDays)

			assert.ErrorIs(t, err, tc.expected)
			assert.Equal(t, 1, AssertBookInvariant(t, ctx, store, available.ID).AvailableCopies, "nothing must be mutated")
		})
	}

	page, err := engine.ListRecords(ctx, lending.BuildRecordQuery())
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func Test_Borrow_ErrorKinds(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := givenEngine(t)
	book := givenBook(t, store, 1)
	inactive := givenMember(t, store, false)

	_, err := engine.Borrow(ctx, book.ID, inactive.ID, 0)

	assert.Equal(t, lending.KindForbidden, lending.KindOf(err))
	assert.False(t, lending.IsRetryable(err))
}

func Test_Borrow_WithExplicitLoanPeriod(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := givenEngine(t, lending.WithLoanPeriod(21))
	book := givenBook(t, store, 2)
	member := givenMember(t, store, true)

	byDefault, err := engine.Borrow(ctx, book.ID, member.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, fakeNow.Add(Days(21)), byDefault.DueDate)

	explicit, err := engine.Borrow(ctx, book.ID, member.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, fakeNow.Add(Days(7)), explicit.DueDate)
}

func Test_Return_ComputesFine(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name    string
		elapsed time.Duration
		fine    int64
	}{
		{"on time", Days(14), 0},
		{"early", Days(3), 0},
		{"six days late", Days(20), 30},
		{"one hour late", Days(14) + time.Hour, 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine, store, clock := givenEngine(t)
			book := givenBook(t, store, 1)
			member := givenMember(t, store, true)

			record, err := engine.Borrow(ctx, book.ID, member.ID, 14)
			require.NoError(t, err)

			clock.Advance(tc.elapsed)

			returned, err := engine.Return(ctx, record.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.fine, returned.Fine)
			assert.Equal(t, fakeNow.Add(tc.elapsed), *returned.ReturnDate)
		})
	}
}

func Test_Return_Twice_IsRejected_And_ChangesNothing(t *testing.T) {
	ctx := context.Background()
	engine, store, clock := givenEngine(t)
	book := givenBook(t, store, 2)
	member := givenMember(t, store, true)

	record, err := engine.Borrow(ctx, book.ID, member.ID, 0)
	require.NoError(t, err)
	_, err = engine.Borrow(ctx, book.ID, member.ID, 0)
	require.NoError(t, err)

	first, err := engine.Return(ctx, record.ID)
	require.NoError(t, err)

	clock.Advance(Days(30))

	_, err = engine.Return(ctx, record.ID)
	assert.ErrorIs(t, err, lending.ErrAlreadyReturned)
	assert.Equal(t, lending.KindConflict, lending.KindOf(err))

	stored, err := engine.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, first, stored)
	assert.Equal(t, 1, AssertBookInvariant(t, ctx, store, book.ID).AvailableCopies)
	AssertHoldingsMatchLedger(t, ctx, store, store, member.ID)
}

func Test_Return_UnknownRecord(t *testing.T) {
	engine, _, _ := givenEngine(t)

	_, err := engine.Return(context.Background(), GivenUniqueID(t))
	assert.ErrorIs(t, err, lending.ErrRecordNotFound)

	_, err = engine.Return(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, lending.ErrMissingIdentifier)
}

func Test_Holdings_AreAMultiset(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := givenEngine(t)
	book := givenBook(t, store, 3)
	member := givenMember(t, store, true)

	first, err := engine.Borrow(ctx, book.ID, member.ID, 0)
	require.NoError(t, err)
	_, err = engine.Borrow(ctx, book.ID, member.ID, 0)
	require.NoError(t, err)

	held, err := store.GetMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, held.HoldingCount(book.ID))

	_, err = engine.Return(ctx, first.ID)
	require.NoError(t, err)

	held, err = store.GetMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, held.HoldingCount(book.ID))
	assert.Equal(t, 2, AssertBookInvariant(t, ctx, store, book.ID).AvailableCopies)
	AssertHoldingsMatchLedger(t, ctx, store, store, member.ID)
}

func Test_ListOverdue(t *testing.T) {
	ctx := context.Background()
	engine, store, clock := givenEngine(t)
	book := givenBook(t, store, 5)
	member := givenMember(t, store, true)

	shortLoan, err := engine.Borrow(ctx, book.ID, member.ID, 1)
	require.NoError(t, err)
	mediumLoan, err := engine.Borrow(ctx, book.ID, member.ID, 3)
	require.NoError(t, err)
	lateReturn, err := engine.Borrow(ctx, book.ID, member.ID, 1)
	require.NoError(t, err)
	_, err = engine.Borrow(ctx, book.ID, member.ID, 30)
	require.NoError(t, err)

	clock.Advance(Days(3))

	_, err = engine.Return(ctx, lateReturn.ID)
	require.NoError(t, err)

	overdue, err := engine.ListOverdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1, "a record due exactly now is not overdue yet")
	assert.Equal(t, shortLoan.ID, overdue[0].ID)

	clock.Advance(time.Second)

	overdue, err = engine.ListOverdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, []uuid.UUID{shortLoan.ID, mediumLoan.ID}, []uuid.UUID{overdue[0].ID, overdue[1].ID})
}

func Test_ListRecords_FiltersSortsAndPages(t *testing.T) {
	ctx := context.Background()
	engine, store, clock := givenEngine(t)
	book := givenBook(t, store, 10)
	otherBook := givenBook(t, store, 10)
	member := givenMember(t, store, true)
	otherMember := givenMember(t, store, true)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		record, err := engine.Borrow(ctx, book.ID, member.ID, 0)
		require.NoError(t, err)
		ids = append(ids, record.ID)
		clock.Advance(time.Hour)
	}

	_, err := engine.Borrow(ctx, otherBook.ID, otherMember.ID, 0)
	require.NoError(t, err)
	_, err = engine.Return(ctx, ids[0])
	require.NoError(t, err)

	page, err := engine.ListRecords(ctx, lending.BuildRecordQuery().ForMember(member.ID).OnPage(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages)
	require.Len(t, page.Records, 2)
	assert.Equal(t, ids[4], page.Records[0].ID, "newest borrow first by default")

	page, err = engine.ListRecords(ctx, lending.BuildRecordQuery().
		ForBook(book.ID).
		WithStatus(lending.StatusBorrowed).
		SortedBy(lending.SortByBorrowDate, lending.Ascending).
		OnPage(2, 3))
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Records, 1)
	assert.Equal(t, ids[4], page.Records[0].ID)

	_, err = engine.ListRecords(ctx, lending.BuildRecordQuery().OnPage(1, 1000))
	assert.ErrorIs(t, err, lending.ErrInvalidRecordQuery)
}

func Test_ReconcileTotalCopies(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := givenEngine(t)
	book := givenBook(t, store, 3)
	member := givenMember(t, store, true)

	for i := 0; i < 2; i++ {
		_, err := engine.Borrow(ctx, book.ID, member.ID, 0)
		require.NoError(t, err)
	}

	_, err := engine.ReconcileTotalCopies(ctx, book.ID, 1)
	assert.ErrorIs(t, err, lending.ErrCopiesOnLoan)
	assert.Equal(t, 1, AssertBookInvariant(t, ctx, store, book.ID).AvailableCopies)

	reconciled, err := engine.ReconcileTotalCopies(ctx, book.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, reconciled.TotalCopies)
	assert.Equal(t, 3, reconciled.AvailableCopies)

	reconciled, err = engine.ReconcileTotalCopies(ctx, book.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, reconciled.AvailableCopies)

	_, err = engine.ReconcileTotalCopies(ctx, book.ID, -1)
	assert.ErrorIs(t, err, lending.ErrInvalidCopyCount)

	_, err = engine.ReconcileTotalCopies(ctx, GivenUniqueID(t), 1)
	assert.ErrorIs(t, err, lending.ErrBookNotFound)
}
