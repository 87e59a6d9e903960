package lending

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CatalogStore is the collaborator that owns Book records.
//
// AdjustAvailability must be a single atomic compare-and-adjust that also records the adjustment
// under its ID: it rejects a result below zero with ErrBookUnavailable and a result above TotalCopies
// with ErrInvariantViolation, leaving the book unchanged in both cases. Applying an ID that was
// already applied changes nothing and returns the current book; applying an ID that was reverted
// fails with ErrAdjustmentReverted.
//
// RevertAdjustment undoes an applied adjustment exactly once. Reverting an unknown ID records it as
// reverted without touching the counters, so the adjustment can no longer be applied later.
type CatalogStore interface {
	GetBook(ctx context.Context, id uuid.UUID) (Book, error)
	GetBookByISBN(ctx context.Context, isbn string) (Book, error)
	AdjustAvailability(ctx context.Context, adjustment Adjustment) (Book, error)
	RevertAdjustment(ctx context.Context, adjustment Adjustment) (Book, error)

	// ReconcileCopies atomically sets TotalCopies to newTotal and shifts AvailableCopies by the same
	// difference, so the number of copies on loan is preserved. It rejects a newTotal below the
	// copies on loan with ErrCopiesOnLoan.
	ReconcileCopies(ctx context.Context, id uuid.UUID, newTotal int) (Book, error)
}

// MemberStore is the collaborator that owns Member records.
//
// Holdings are keyed by record ID and both mutations are idempotent. AddHolding makes the holding
// held, whether it is new or was released before. RemoveHolding releases it; releasing a released
// holding succeeds, and a record without any holding fails with ErrHoldingNotFound joined with
// ErrInvariantViolation.
type MemberStore interface {
	GetMember(ctx context.Context, id uuid.UUID) (Member, error)
	AddHolding(ctx context.Context, holding Holding) error
	RemoveHolding(ctx context.Context, holding Holding) error
}

// Ledger owns the lifetime of BorrowRecord entries.
//
// MarkReturned is the atomicity gate of a return: a conditional update guarded by status Borrowed.
// When the guard fails it returns ErrAlreadyReturned (or ErrRecordNotFound) without changing anything.
// Void and Reopen exist only for compensation and are guarded the same way.
type Ledger interface {
	Insert(ctx context.Context, record BorrowRecord) error
	Get(ctx context.Context, id uuid.UUID) (BorrowRecord, error)
	MarkReturned(ctx context.Context, id uuid.UUID, returnDate time.Time, fine int64) (BorrowRecord, error)
	Void(ctx context.Context, id uuid.UUID) error
	Reopen(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, query RecordQuery) (RecordPage, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]BorrowRecord, error)
}
