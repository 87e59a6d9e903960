// Package lendingtest provides test spies, fixtures, and invariant checks shared by the lending test suites.
package lendingtest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/library-lending-go/lending"
)

func GivenUniqueID(t testing.TB) uuid.UUID {
	id, err := uuid.NewV7()
	require.NoError(t, err, "error in arranging test data")

	return id
}

// FixtureBook builds a book with a unique ID and ISBN and all copies available.
func FixtureBook(t testing.TB, totalCopies int) lending.Book {
	id := GivenUniqueID(t)

	return lending.Book{
		ID:              id,
		Title:           "Learning Domain-Driven Design",
		Author:          "Vlad Khononov",
		ISBN:            fmt.Sprintf("978-%s", id.String()[24:]),
		Category:        "Software",
		PublishedYear:   2021,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
	}
}

// FixtureMember builds a member with a unique ID and no holdings.
func FixtureMember(t testing.TB, active bool) lending.Member {
	id := GivenUniqueID(t)

	return lending.Member{
		ID:     id,
		Name:   "Ada Reader",
		Email:  fmt.Sprintf("reader-%s@example.org", id.String()[:8]),
		Phone:  "+49 30 1234567",
		Active: active,
	}
}

// GivenAdjustment builds an availability adjustment with a fresh key and record.
func GivenAdjustment(t testing.TB, bookID uuid.UUID, delta int) lending.Adjustment {
	return lending.Adjustment{ID: GivenUniqueID(t), BookID: bookID, RecordID: GivenUniqueID(t), Delta: delta}
}

// GivenHolding builds a holding backed by a fresh record ID.
func GivenHolding(t testing.TB, memberID uuid.UUID, bookID uuid.UUID) lending.Holding {
	return lending.Holding{RecordID: GivenUniqueID(t), MemberID: memberID, BookID: bookID}
}

// FakeClock is a settable clock for lending.WithClock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a FakeClock starting at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the fake time forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// Days converts a number of days to a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// AssertBookInvariant asserts 0 <= available <= total for the given book.
func AssertBookInvariant(t testing.TB, ctx context.Context, catalog lending.CatalogStore, bookID uuid.UUID) lending.Book {
	book, err := catalog.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, book.AvailableCopies, 0, "available copies must not be negative")
	assert.LessOrEqual(t, book.AvailableCopies, book.TotalCopies, "available copies must not exceed total")

	return book
}

// AssertHoldingsMatchLedger asserts that the holdings multiset of a member equals the book IDs
// of the member's Borrowed records.
func AssertHoldingsMatchLedger(t testing.TB, ctx context.Context, members lending.MemberStore, ledger lending.Ledger, memberID uuid.UUID) {
	member, err := members.GetMember(ctx, memberID)
	require.NoError(t, err)

	borrowed := make([]uuid.UUID, 0)
	for page := 1; ; page++ {
		result, err := ledger.List(ctx, lending.BuildRecordQuery().
			ForMember(memberID).
			WithStatus(lending.StatusBorrowed).
			OnPage(page, lending.MaxPageSize))
		require.NoError(t, err)

		for _, record := range result.Records {
			borrowed = append(borrowed, record.BookID)
		}

		if page >= result.Pages {
			break
		}
	}

	assert.ElementsMatch(t, sortedIDs(borrowed), sortedIDs(member.Holdings), "holdings must match borrowed records")
}

func sortedIDs(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	slices.Sort(out)

	return out
}
