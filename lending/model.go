package lending

import (
	"time"

	"github.com/google/uuid"
)

// Status is the stored lifecycle state of a BorrowRecord.
//
// It is a strict two-state machine. Overdue is derived from the dates on read (see IsOverdue),
// never stored.
type Status string

const (
	// StatusBorrowed marks an active loan.
	StatusBorrowed Status = "borrowed"

	// StatusReturned marks a finished loan. Terminal.
	StatusReturned Status = "returned"
)

// Valid reports whether s is one of the two stored states.
func (s Status) Valid() bool {
	return s == StatusBorrowed || s == StatusReturned
}

// Book is one catalog title with a finite number of copies.
type Book struct {
	ID              uuid.UUID
	Title           string
	Author          string
	ISBN            string
	Category        string
	PublishedYear   int
	TotalCopies     int
	AvailableCopies int
}

// CopiesOnLoan returns how many copies are currently lent out according to the counters.
func (b Book) CopiesOnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}

// Adjustment is one keyed change of a book's available copies.
//
// ID is the idempotency key: a store applies an adjustment at most once and remembers
// whether it was reverted, so retries and compensations of the same step are safe to repeat.
type Adjustment struct {
	ID       uuid.UUID
	BookID   uuid.UUID
	RecordID uuid.UUID
	Delta    int
}

// Holding is one copy held by a member, keyed by the Borrowed record that backs it.
type Holding struct {
	RecordID uuid.UUID
	MemberID uuid.UUID
	BookID   uuid.UUID
}

// HoldingOf returns the holding that backs the record.
func HoldingOf(record BorrowRecord) Holding {
	return Holding{RecordID: record.ID, MemberID: record.MemberID, BookID: record.BookID}
}

// Member is a library member who may borrow books while active.
//
// Holdings lists the book IDs of the copies currently held, in the order they were borrowed.
// It is a multiset: a member may hold several copies of the same title,
// each backed by its own Borrowed record.
type Member struct {
	ID       uuid.UUID
	Name     string
	Email    string
	Phone    string
	Active   bool
	Holdings []uuid.UUID
}

// HoldingCount returns how many copies of bookID the member currently holds.
func (m Member) HoldingCount(bookID uuid.UUID) int {
	count := 0
	for _, held := range m.Holdings {
		if held == bookID {
			count++
		}
	}

	return count
}

// BorrowRecord is one ledger entry: the durable unit of lending history.
//
// It is created Borrowed by a successful borrow and mutated exactly once, by a successful return,
// into Returned with ReturnDate and Fine set.
type BorrowRecord struct {
	ID         uuid.UUID
	BookID     uuid.UUID
	MemberID   uuid.UUID
	BorrowDate time.Time
	DueDate    time.Time
	ReturnDate *time.Time
	Status     Status
	Fine       int64
}

// IsOverdue reports whether the record is an active loan whose due date is strictly before asOf.
func (r BorrowRecord) IsOverdue(asOf time.Time) bool {
	return r.Status == StatusBorrowed && r.DueDate.Before(asOf)
}

// IsReturned reports whether the record reached its terminal state.
func (r BorrowRecord) IsReturned() bool {
	return r.Status == StatusReturned
}

// ToTimestamp normalizes t to UTC with microsecond precision, the resolution all stores persist.
func ToTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
