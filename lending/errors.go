package lending

import (
	"context"
	"errors"
)

// Kind classifies a failure for callers that need to decide how to react (retry, report, map to a status code).
type Kind int

const (
	// KindUnknown is returned by KindOf for errors that carry no lending classification.
	KindUnknown Kind = iota

	// KindInvalidArgument marks malformed input, detected before any lookup or mutation.
	KindInvalidArgument

	// KindNotFound marks a missing book, member, or record.
	KindNotFound

	// KindConflict marks a request that contradicts the current state (no copies left, already returned).
	KindConflict

	// KindForbidden marks a request by a member who may not borrow.
	KindForbidden

	// KindUnavailable marks storage timeouts or unreachable storage. Retryable by the caller.
	KindUnavailable

	// KindInternal marks observed state that contradicts the lending invariants. Never retried automatically.
	KindInternal
)

// String provides a string representation of Kind for logging and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindForbidden:
		return "Forbidden"
	case KindUnavailable:
		return "Unavailable"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the typed outcome of a failed lending operation.
//
// The package exposes one sentinel *Error per distinct outcome. Details and causes are attached with
// errors.Join(sentinel, cause), so callers can match with errors.Is(err, ErrBookNotFound) and
// classify with KindOf(err).
type Error struct {
	kind    Kind
	code    string
	message string
}

func newError(kind Kind, code string, message string) *Error {
	return &Error{kind: kind, code: code, message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.code + ": " + e.message
}

// Kind returns the classification of the error.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code returns a stable identifier like "NotFound:Book", suitable for API responses.
func (e *Error) Code() string {
	return e.code
}

var (
	// ErrInvalidLoanPeriod is returned when the requested loan duration is less than one day.
	ErrInvalidLoanPeriod = newError(KindInvalidArgument, "InvalidArgument:LoanPeriod", "loan period must be at least one day")

	// ErrMissingIdentifier is returned when a required book, member, or record ID is empty.
	ErrMissingIdentifier = newError(KindInvalidArgument, "InvalidArgument:MissingIdentifier", "identifier must not be empty")

	// ErrInvalidRecordQuery is returned for unusable paging or sorting parameters.
	ErrInvalidRecordQuery = newError(KindInvalidArgument, "InvalidArgument:RecordQuery", "record query is not valid")

	// ErrInvalidCopyCount is returned when a total copy count below zero is requested.
	ErrInvalidCopyCount = newError(KindInvalidArgument, "InvalidArgument:CopyCount", "total copies must not be negative")

	// ErrBookNotFound is returned when the book does not exist in the catalog.
	ErrBookNotFound = newError(KindNotFound, "NotFound:Book", "book not found")

	// ErrMemberNotFound is returned when the member does not exist.
	ErrMemberNotFound = newError(KindNotFound, "NotFound:Member", "member not found")

	// ErrRecordNotFound is returned when the borrow record does not exist.
	ErrRecordNotFound = newError(KindNotFound, "NotFound:Record", "borrow record not found")

	// ErrBookUnavailable is returned when no copy of the book is available for lending.
	ErrBookUnavailable = newError(KindConflict, "Conflict:Unavailable", "book is not available")

	// ErrAlreadyReturned is returned when a record that was already returned is returned again.
	ErrAlreadyReturned = newError(KindConflict, "Conflict:AlreadyReturned", "book already returned")

	// ErrCopiesOnLoan is returned when a total copy count below the number of copies on loan is requested.
	ErrCopiesOnLoan = newError(KindConflict, "Conflict:CopiesOnLoan", "total copies below copies currently on loan")

	// ErrDuplicateISBN is returned by catalog stores when a book with the same ISBN already exists.
	ErrDuplicateISBN = newError(KindConflict, "Conflict:DuplicateISBN", "a book with this isbn already exists")

	// ErrInactiveMember is returned when a deactivated member tries to borrow.
	ErrInactiveMember = newError(KindForbidden, "Forbidden:InactiveMember", "member account is deactivated")

	// ErrTimeout is returned when a storage call exceeded its deadline.
	ErrTimeout = newError(KindUnavailable, "Unavailable:Timeout", "storage call timed out")

	// ErrStorageUnavailable is returned when storage could not be reached or failed to execute a statement.
	ErrStorageUnavailable = newError(KindUnavailable, "Unavailable:Storage", "storage is unavailable")

	// ErrHoldingNotFound is returned by member stores when no holding exists for a record.
	// Stores join it with ErrInvariantViolation.
	ErrHoldingNotFound = newError(KindInternal, "Internal:HoldingNotFound", "member holds no copy for this record")

	// ErrAdjustmentReverted is returned when an availability adjustment is applied after it was reverted.
	ErrAdjustmentReverted = newError(KindInternal, "Internal:AdjustmentReverted", "availability adjustment was already reverted")

	// ErrInvariantViolation is returned when observed state contradicts the lending invariants.
	ErrInvariantViolation = newError(KindInternal, "Internal:InvariantViolation", "lending invariant violated")
)

// KindOf classifies err. A context.DeadlineExceeded anywhere in the chain counts as KindUnavailable.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var lendingErr *Error
	if errors.As(err, &lendingErr) {
		return lendingErr.kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}

	return KindUnknown
}

// CodeOf returns the stable code of the first lending error in the chain, or "" if there is none.
func CodeOf(err error) string {
	var lendingErr *Error
	if errors.As(err, &lendingErr) {
		return lendingErr.code
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout.code
	}

	return ""
}

// IsRetryable reports whether the caller may retry the operation that produced err.
func IsRetryable(err error) bool {
	return KindOf(err) == KindUnavailable
}

// asTimeout normalizes deadline errors to ErrTimeout while keeping the original chain.
func asTimeout(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return errors.Join(ErrTimeout, err)
	}

	return err
}
