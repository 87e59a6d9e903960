package lending

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

const (
	// DefaultPage is the page returned when a query does not ask for one.
	DefaultPage = 1

	// DefaultPageSize is the page size used when a query does not ask for one.
	DefaultPageSize = 10

	// MaxPageSize caps the page size to keep list queries bounded.
	MaxPageSize = 100

	// MaxPage keeps the offset of every valid query within a 32-bit integer.
	MaxPage = math.MaxInt32/MaxPageSize + 1
)

// SortField names a stored BorrowRecord field that list queries can order by.
type SortField string

const (
	SortByID         SortField = "id"
	SortByBookID     SortField = "bookId"
	SortByMemberID   SortField = "memberId"
	SortByBorrowDate SortField = "borrowDate"
	SortByDueDate    SortField = "dueDate"
	SortByReturnDate SortField = "returnDate"
	SortByStatus     SortField = "status"
	SortByFine       SortField = "fine"
)

// Valid reports whether f is a known sort field.
func (f SortField) Valid() bool {
	switch f {
	case SortByID, SortByBookID, SortByMemberID, SortByBorrowDate, SortByDueDate, SortByReturnDate, SortByStatus, SortByFine:
		return true
	default:
		return false
	}
}

// SortOrder is the direction of a list query.
type SortOrder string

const (
	Ascending  SortOrder = "asc"
	Descending SortOrder = "desc"
)

// RecordFilter restricts a list query. Zero-valued fields do not filter.
type RecordFilter struct {
	MemberID uuid.UUID
	BookID   uuid.UUID
	Status   Status
}

// RecordQuery describes one page of ledger entries.
//
// Build it with BuildRecordQuery and the chained methods; stores receive it already normalized.
type RecordQuery struct {
	Filter   RecordFilter
	SortBy   SortField
	Order    SortOrder
	Page     int
	PageSize int
}

// BuildRecordQuery starts a query with the defaults: all records, newest borrow first, first page of ten.
func BuildRecordQuery() RecordQuery {
	return RecordQuery{
		SortBy:   SortByBorrowDate,
		Order:    Descending,
		Page:     DefaultPage,
		PageSize: DefaultPageSize,
	}
}

// ForMember restricts the query to records of one member.
func (q RecordQuery) ForMember(memberID uuid.UUID) RecordQuery {
	q.Filter.MemberID = memberID
	return q
}

// ForBook restricts the query to records of one book.
func (q RecordQuery) ForBook(bookID uuid.UUID) RecordQuery {
	q.Filter.BookID = bookID
	return q
}

// WithStatus restricts the query to records in one state.
func (q RecordQuery) WithStatus(status Status) RecordQuery {
	q.Filter.Status = status
	return q
}

// SortedBy sets the sort field and direction.
func (q RecordQuery) SortedBy(field SortField, order SortOrder) RecordQuery {
	q.SortBy = field
	q.Order = order
	return q
}

// OnPage selects a 1-indexed page of the given size.
func (q RecordQuery) OnPage(page int, pageSize int) RecordQuery {
	q.Page = page
	q.PageSize = pageSize
	return q
}

// Normalize fills unset fields with defaults and validates the rest.
func (q RecordQuery) Normalize() (RecordQuery, error) {
	if q.SortBy == "" {
		q.SortBy = SortByBorrowDate
	}

	if q.Order == "" {
		q.Order = Descending
	}

	if q.Page == 0 {
		q.Page = DefaultPage
	}

	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}

	switch {
	case !q.SortBy.Valid():
		return RecordQuery{}, errors.Join(ErrInvalidRecordQuery, fmt.Errorf("unknown sort field %q", q.SortBy))
	case q.Order != Ascending && q.Order != Descending:
		return RecordQuery{}, errors.Join(ErrInvalidRecordQuery, fmt.Errorf("unknown sort order %q", q.Order))
	case q.Page < 1 || q.Page > MaxPage:
		return RecordQuery{}, errors.Join(ErrInvalidRecordQuery, fmt.Errorf("page must be between 1 and %d, got %d", MaxPage, q.Page))
	case q.PageSize < 1 || q.PageSize > MaxPageSize:
		return RecordQuery{}, errors.Join(ErrInvalidRecordQuery, fmt.Errorf("page size must be between 1 and %d, got %d", MaxPageSize, q.PageSize))
	case q.Filter.Status != "" && !q.Filter.Status.Valid():
		return RecordQuery{}, errors.Join(ErrInvalidRecordQuery, fmt.Errorf("unknown status %q", q.Filter.Status))
	}

	return q, nil
}

// Offset returns the number of records skipped before the requested page.
func (q RecordQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// RecordPage is the result envelope of a list query.
type RecordPage struct {
	Records  []BorrowRecord
	Page     int
	PageSize int
	Total    int
	Pages    int
}

// BuildRecordPage wraps one page of records with its paging metadata.
func BuildRecordPage(query RecordQuery, records []BorrowRecord, total int) RecordPage {
	if records == nil {
		records = make([]BorrowRecord, 0)
	}

	pages := 0
	if query.PageSize > 0 {
		pages = (total + query.PageSize - 1) / query.PageSize
	}

	return RecordPage{
		Records:  records,
		Page:     query.Page,
		PageSize: query.PageSize,
		Total:    total,
		Pages:    pages,
	}
}
