package lending_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/library-lending-go/lending"
)

func Test_ComputeFine(t *testing.T) {
	borrowed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	due := borrowed.Add(14 * 24 * time.Hour)

	testCases := []struct {
		name     string
		returned time.Time
		fine     int64
	}{
		{"returned early", due.Add(-time.Hour), 0},
		{"returned exactly on due date", due, 0},
		{"one second late counts as a day", due.Add(time.Second), 5},
		{"returned on day 20 of a 14 day loan", borrowed.Add(20 * 24 * time.Hour), 30},
		{"partial day rounds up", due.Add(2*24*time.Hour + time.Minute), 15},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.fine, lending.ComputeFine(due, tc.returned, lending.DefaultFinePerDay))
		})
	}
}

func Test_AccruedFine(t *testing.T) {
	due := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	returnDate := due.Add(time.Hour)

	active := lending.BorrowRecord{Status: lending.StatusBorrowed, DueDate: due}
	returned := lending.BorrowRecord{Status: lending.StatusReturned, DueDate: due, ReturnDate: &returnDate, Fine: 5}

	assert.Equal(t, int64(20), lending.AccruedFine(active, due.Add(4*24*time.Hour), 5))
	assert.Equal(t, int64(5), lending.AccruedFine(returned, due.Add(40*24*time.Hour), 5))
}

func Test_BorrowRecord_IsOverdue(t *testing.T) {
	due := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	record := lending.BorrowRecord{Status: lending.StatusBorrowed, DueDate: due}

	assert.False(t, record.IsOverdue(due), "due date itself is not overdue")
	assert.True(t, record.IsOverdue(due.Add(time.Microsecond)))

	record.Status = lending.StatusReturned
	assert.False(t, record.IsOverdue(due.Add(48*time.Hour)))
}
