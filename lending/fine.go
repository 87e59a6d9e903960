package lending

import "time"

const (
	// DefaultLoanDays is the loan period used when a borrow request does not specify one.
	DefaultLoanDays = 14

	// DefaultFinePerDay is charged for every full or partial day a copy is returned late.
	DefaultFinePerDay int64 = 5

	day = 24 * time.Hour
)

// OverdueDays returns the number of started days between dueDate and returnDate.
// Partial days round up. Returns 0 when returnDate is not after dueDate.
func OverdueDays(dueDate time.Time, returnDate time.Time) int64 {
	if !returnDate.After(dueDate) {
		return 0
	}

	late := returnDate.Sub(dueDate)
	days := int64(late / day)
	if late%day != 0 {
		days++
	}

	return days
}

// ComputeFine returns the fine for returning a copy due at dueDate on returnDate.
func ComputeFine(dueDate time.Time, returnDate time.Time, finePerDay int64) int64 {
	return OverdueDays(dueDate, returnDate) * finePerDay
}

// AccruedFine returns the fine a Borrowed record would be charged if it were returned at asOf.
// Returned records report their stored fine. Nothing is mutated.
func AccruedFine(record BorrowRecord, asOf time.Time, finePerDay int64) int64 {
	if record.IsReturned() {
		return record.Fine
	}

	return ComputeFine(record.DueDate, asOf, finePerDay)
}
