package lending

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	stepInsertRecord    = "insert_record"
	stepDecrement       = "decrement_availability"
	stepAddHolding      = "add_holding"
	stepMarkReturned    = "mark_returned"
	stepIncrement       = "increment_availability"
	stepRemove          = "remove_holding"
	stepVoidRecord      = "void_record"
	stepReopenRecord    = "reopen_record"
	stepRevertDecrement = "revert_decrement"
	stepRevertIncrement = "revert_increment"
	stepReleaseHolding  = "release_holding"
	stepRestoreHolding  = "restore_holding"
)

// Engine orchestrates borrow and return as compound operations across the Ledger,
// the CatalogStore, and the MemberStore.
//
// The engine holds no lending state of its own; it is safe for concurrent use as long as
// the stores are.
type Engine struct {
	catalog CatalogStore
	members MemberStore
	ledger  Ledger

	clock        func() time.Time
	loanDays     int
	finePerDay   int64
	storeTimeout time.Duration
	retry        retryConfig

	logger           Logger
	contextualLogger ContextualLogger
	metricsCollector MetricsCollector
	tracingCollector TracingCollector
}

// NewEngine creates an Engine with the given stores and options.
func NewEngine(catalog CatalogStore, members MemberStore, ledger Ledger, options ...Option) (*Engine, error) {
	if catalog == nil || members == nil || ledger == nil {
		return nil, ErrNilStore
	}

	e := &Engine{
		catalog:      catalog,
		members:      members,
		ledger:       ledger,
		clock:        time.Now,
		loanDays:     DefaultLoanDays,
		finePerDay:   DefaultFinePerDay,
		storeTimeout: defaultStoreTimeout,
		retry:        defaultRetryConfig(),
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	if e.retry.metricsCollector == nil {
		e.retry.metricsCollector = e.metricsCollector
	}

	return e, nil
}

// Borrow lends one copy of a book to a member for loanDays days (0 selects the configured loan period).
//
// Preconditions are checked in order (book exists, a copy is available, member exists, member is
// active) before anything is mutated. The three effects (ledger entry, availability decrement,
// holding) then become visible together or, after compensation, not at all.
func (e *Engine) Borrow(ctx context.Context, bookID uuid.UUID, memberID uuid.UUID, loanDays int) (record BorrowRecord, err error) {
	observer, ctx := e.observe(ctx, OperationBorrow, LogAttrBookID, bookID.String(), LogAttrMemberID, memberID.String())
	defer func() { observer.finish(err) }()

	if bookID == uuid.Nil || memberID == uuid.Nil {
		return BorrowRecord{}, ErrMissingIdentifier
	}

	if loanDays == 0 {
		loanDays = e.loanDays
	}

	if loanDays < 1 {
		return BorrowRecord{}, ErrInvalidLoanPeriod
	}

	var book Book
	if err = e.call(ctx, func(ctx context.Context) (err error) {
		book, err = e.catalog.GetBook(ctx, bookID)
		return err
	}); err != nil {
		return BorrowRecord{}, err
	}

	if book.AvailableCopies <= 0 {
		return BorrowRecord{}, ErrBookUnavailable
	}

	var member Member
	if err = e.call(ctx, func(ctx context.Context) (err error) {
		member, err = e.members.GetMember(ctx, memberID)
		return err
	}); err != nil {
		return BorrowRecord{}, err
	}

	if !member.Active {
		return BorrowRecord{}, ErrInactiveMember
	}

	recordID, err := uuid.NewV7()
	if err != nil {
		return BorrowRecord{}, internalError(err)
	}

	borrowDate := ToTimestamp(e.clock())
	record = BorrowRecord{
		ID:         recordID,
		BookID:     bookID,
		MemberID:   memberID,
		BorrowDate: borrowDate,
		DueDate:    borrowDate.Add(time.Duration(loanDays) * day),
		Status:     StatusBorrowed,
	}

	// From here on the effects run to completion or compensation, regardless of the caller.
	ctx = context.WithoutCancel(ctx)

	if err = e.applyBorrow(ctx, record); err != nil {
		return BorrowRecord{}, err
	}

	return record, nil
}

// applyBorrow registers every compensation before its step is attempted: a step whose outcome is
// unknown may have been applied, and the keyed store calls make undoing an unapplied step a no-op.
func (e *Engine) applyBorrow(ctx context.Context, record BorrowRecord) error {
	saga := e.newSaga(ctx, OperationBorrow, record)

	decrement, err := newAdjustment(record, -1)
	if err != nil {
		return internalError(err)
	}

	if err = e.call(ctx, func(ctx context.Context) error { return e.ledger.Insert(ctx, record) }); err != nil {
		if IsRetryable(err) {
			// The insert may have been applied before the failure surfaced.
			saga.onFailure(stepVoidRecord, e.voidRecord(record.ID))
		}

		return saga.fail(stepInsertRecord, err)
	}

	saga.onFailure(stepVoidRecord, e.voidRecord(record.ID))
	saga.onFailure(stepRevertDecrement, e.revertAdjustment(decrement))

	if err = e.retrying(ctx, OperationBorrow, stepDecrement, e.adjustAvailability(decrement)); err != nil {
		return saga.fail(stepDecrement, err)
	}

	holding := HoldingOf(record)
	saga.onFailure(stepReleaseHolding, e.releaseHolding(holding))

	if err = e.retrying(ctx, OperationBorrow, stepAddHolding, func(ctx context.Context) error {
		return e.members.AddHolding(ctx, holding)
	}); err != nil {
		return saga.fail(stepAddHolding, err)
	}

	return nil
}

// Return finishes the loan of a record, computing its fine.
//
// The Borrowed to Returned transition is the atomicity gate: of two concurrent returns of the
// same record exactly one passes it, the other fails with ErrAlreadyReturned and changes nothing.
func (e *Engine) Return(ctx context.Context, recordID uuid.UUID) (record BorrowRecord, err error) {
	observer, ctx := e.observe(ctx, OperationReturn, LogAttrRecordID, recordID.String())
	defer func() { observer.finish(err) }()

	if recordID == uuid.Nil {
		return BorrowRecord{}, ErrMissingIdentifier
	}

	var current BorrowRecord
	if err = e.call(ctx, func(ctx context.Context) (err error) {
		current, err = e.ledger.Get(ctx, recordID)
		return err
	}); err != nil {
		return BorrowRecord{}, err
	}

	if current.IsReturned() {
		return BorrowRecord{}, ErrAlreadyReturned
	}

	returnDate := ToTimestamp(e.clock())
	fine := ComputeFine(current.DueDate, returnDate, e.finePerDay)

	ctx = context.WithoutCancel(ctx)

	if err = e.call(ctx, func(ctx context.Context) (err error) {
		record, err = e.ledger.MarkReturned(ctx, recordID, returnDate, fine)
		return err
	}); err != nil {
		if !IsRetryable(err) {
			return BorrowRecord{}, err
		}

		// The outcome is unknown; a stored return stamped with our returnDate means the gate was passed.
		applied, lookupErr := e.lookupReturned(ctx, recordID, returnDate)
		if lookupErr != nil || !applied.IsReturned() {
			return BorrowRecord{}, err
		}

		record = applied
	}

	if err = e.applyReturn(ctx, record); err != nil {
		return BorrowRecord{}, err
	}

	if record.Fine > 0 {
		e.incrementCounter(ctx, FinesAssessedMetric, map[string]string{LogAttrOperation: OperationReturn})
	}

	return record, nil
}

func (e *Engine) lookupReturned(ctx context.Context, recordID uuid.UUID, returnDate time.Time) (BorrowRecord, error) {
	var stored BorrowRecord
	err := e.retrying(ctx, OperationReturn, stepMarkReturned, func(ctx context.Context) (err error) {
		stored, err = e.ledger.Get(ctx, recordID)
		return err
	})
	if err != nil {
		return BorrowRecord{}, err
	}

	if stored.ReturnDate == nil || !stored.ReturnDate.Equal(returnDate) {
		return BorrowRecord{}, nil
	}

	return stored, nil
}

func (e *Engine) applyReturn(ctx context.Context, record BorrowRecord) error {
	saga := e.newSaga(ctx, OperationReturn, record)
	saga.onFailure(stepReopenRecord, e.reopenRecord(record.ID))

	increment, err := newAdjustment(record, +1)
	if err != nil {
		return saga.fail(stepIncrement, internalError(err))
	}

	saga.onFailure(stepRevertIncrement, e.revertAdjustment(increment))

	if err = e.retrying(ctx, OperationReturn, stepIncrement, e.adjustAvailability(increment)); err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			e.reportInvariantViolation(ctx, OperationReturn, err, LogAttrRecordID, record.ID.String(), LogAttrBookID, record.BookID.String())
		}

		return saga.fail(stepIncrement, err)
	}

	holding := HoldingOf(record)

	// A record without any holding had nothing released, so there is nothing to restore.
	var missing bool
	saga.onFailure(stepRestoreHolding, func(ctx context.Context) error {
		if missing {
			return nil
		}

		return e.members.AddHolding(ctx, holding)
	})

	if err = e.retrying(ctx, OperationReturn, stepRemove, func(ctx context.Context) error {
		removeErr := e.members.RemoveHolding(ctx, holding)
		missing = errors.Is(removeErr, ErrHoldingNotFound)

		return removeErr
	}); err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			e.reportInvariantViolation(ctx, OperationReturn, err, LogAttrRecordID, record.ID.String(), LogAttrMemberID, record.MemberID.String())
		}

		return saga.fail(stepRemove, err)
	}

	return nil
}

// GetRecord returns one ledger entry.
func (e *Engine) GetRecord(ctx context.Context, recordID uuid.UUID) (record BorrowRecord, err error) {
	observer, ctx := e.observe(ctx, OperationGetRecord, LogAttrRecordID, recordID.String())
	defer func() { observer.finish(err) }()

	if recordID == uuid.Nil {
		return BorrowRecord{}, ErrMissingIdentifier
	}

	err = e.call(ctx, func(ctx context.Context) (err error) {
		record, err = e.ledger.Get(ctx, recordID)
		return err
	})

	return record, err
}

// ListRecords returns one page of ledger entries matching the query.
func (e *Engine) ListRecords(ctx context.Context, query RecordQuery) (page RecordPage, err error) {
	observer, ctx := e.observe(ctx, OperationListRecords)
	defer func() { observer.finish(err) }()

	query, err = query.Normalize()
	if err != nil {
		return RecordPage{}, err
	}

	err = e.call(ctx, func(ctx context.Context) (err error) {
		page, err = e.ledger.List(ctx, query)
		return err
	})

	return page, err
}

// ListOverdue returns every Borrowed record whose due date lies strictly before now,
// ordered by due date, then record ID.
func (e *Engine) ListOverdue(ctx context.Context) (records []BorrowRecord, err error) {
	observer, ctx := e.observe(ctx, OperationListOverdue)
	defer func() { observer.finish(err) }()

	asOf := ToTimestamp(e.clock())

	err = e.call(ctx, func(ctx context.Context) (err error) {
		records, err = e.ledger.ListOverdue(ctx, asOf)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.recordValue(ctx, OverdueRecordsMetric, float64(len(records)), map[string]string{LogAttrOperation: OperationListOverdue})

	return records, nil
}

// ReconcileTotalCopies changes the number of copies a book has, keeping the copies on loan intact.
// It fails with ErrCopiesOnLoan when newTotal is below the number of copies currently lent out.
func (e *Engine) ReconcileTotalCopies(ctx context.Context, bookID uuid.UUID, newTotal int) (book Book, err error) {
	observer, ctx := e.observe(ctx, OperationReconcileTotal, LogAttrBookID, bookID.String())
	defer func() { observer.finish(err) }()

	if bookID == uuid.Nil {
		return Book{}, ErrMissingIdentifier
	}

	if newTotal < 0 {
		return Book{}, ErrInvalidCopyCount
	}

	if err = e.call(ctx, func(ctx context.Context) (err error) {
		book, err = e.catalog.ReconcileCopies(ctx, bookID, newTotal)
		return err
	}); err != nil {
		return Book{}, err
	}

	var onLoan RecordPage
	if countErr := e.call(ctx, func(ctx context.Context) (err error) {
		onLoan, err = e.ledger.List(ctx, BuildRecordQuery().ForBook(bookID).WithStatus(StatusBorrowed).OnPage(1, 1))
		return err
	}); countErr != nil {
		e.logWarn(ctx, "could not count copies on loan after reconciliation", LogAttrBookID, bookID.String(), LogAttrError, countErr.Error())
		return book, nil
	}

	if onLoan.Total != book.CopiesOnLoan() {
		e.logWarn(ctx, "ledger and inventory disagree on copies on loan",
			LogAttrBookID, bookID.String(),
			"ledger_on_loan", onLoan.Total,
			"inventory_on_loan", book.CopiesOnLoan(),
		)
	}

	return book, nil
}

// call runs one store call bounded by the store timeout.
func (e *Engine) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	return asTimeout(fn(callCtx))
}

// retrying runs one store call with retries on transient failures, each attempt bounded by the store timeout.
func (e *Engine) retrying(ctx context.Context, operation string, step string, fn func(ctx context.Context) error) error {
	config := e.retry
	config.operation = operation
	config.step = step

	return config.run(ctx, func(ctx context.Context) error {
		return e.call(ctx, fn)
	})
}

// newAdjustment keys one availability change of the record's book by a fresh ID, so a second return
// of a reopened record never collides with the reverted adjustment of the first one.
func newAdjustment(record BorrowRecord, delta int) (Adjustment, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Adjustment{}, err
	}

	return Adjustment{ID: id, BookID: record.BookID, RecordID: record.ID, Delta: delta}, nil
}

func (e *Engine) adjustAvailability(adjustment Adjustment) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := e.catalog.AdjustAvailability(ctx, adjustment)
		return err
	}
}

func (e *Engine) revertAdjustment(adjustment Adjustment) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := e.catalog.RevertAdjustment(ctx, adjustment)
		return err
	}
}

// releaseHolding undoes AddHolding; a holding that was never added needs no undo.
func (e *Engine) releaseHolding(holding Holding) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := e.members.RemoveHolding(ctx, holding)
		if errors.Is(err, ErrHoldingNotFound) {
			return nil
		}

		return err
	}
}

func (e *Engine) voidRecord(recordID uuid.UUID) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := e.ledger.Void(ctx, recordID)
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}

		return err
	}
}

func (e *Engine) reopenRecord(recordID uuid.UUID) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return e.ledger.Reopen(ctx, recordID)
	}
}

// internalError classifies an unexpected failure that is not caused by storage.
func internalError(cause error) error {
	return errors.Join(ErrInvariantViolation, cause)
}
