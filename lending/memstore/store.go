// Package memstore provides thread-safe in-memory implementations of the lending collaborator stores.
//
// A single Store implements lending.CatalogStore, lending.MemberStore, and lending.Ledger.
// Every method takes one mutex, so each call is atomic on its own; the lending engine
// provides the multi-entity consistency on top.
package memstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/library-lending-go/lending"
)

// ErrInvalidBook is returned by AddBook for books that cannot be stored.
var ErrInvalidBook = errors.New("book is not valid")

// Store keeps books, members, and borrow records in memory.
type Store struct {
	mu          sync.RWMutex
	books       map[uuid.UUID]lending.Book
	isbns       map[string]uuid.UUID
	members     map[uuid.UUID]lending.Member
	records     map[uuid.UUID]lending.BorrowRecord
	adjustments map[uuid.UUID]loggedAdjustment
	holdings    []heldCopy
	holdingAt   map[uuid.UUID]int
}

type loggedAdjustment struct {
	lending.Adjustment
	reverted bool
}

type heldCopy struct {
	lending.Holding
	released bool
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		books:       make(map[uuid.UUID]lending.Book),
		isbns:       make(map[string]uuid.UUID),
		members:     make(map[uuid.UUID]lending.Member),
		records:     make(map[uuid.UUID]lending.BorrowRecord),
		adjustments: make(map[uuid.UUID]loggedAdjustment),
		holdingAt:   make(map[uuid.UUID]int),
	}
}

// AddBook adds a book to the catalog with all copies available.
// A zero ID is replaced by a new one.
func (s *Store) AddBook(ctx context.Context, book lending.Book) (lending.Book, error) {
	if err := ctx.Err(); err != nil {
		return lending.Book{}, err
	}

	if book.TotalCopies < 0 || strings.TrimSpace(book.ISBN) == "" {
		return lending.Book{}, errors.Join(ErrInvalidBook, fmt.Errorf("isbn %q with %d copies", book.ISBN, book.TotalCopies))
	}

	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}

	book.AvailableCopies = book.TotalCopies

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.isbns[book.ISBN]; exists {
		return lending.Book{}, lending.ErrDuplicateISBN
	}

	s.books[book.ID] = book
	s.isbns[book.ISBN] = book.ID

	return book, nil
}

// AddMember adds a member without holdings. A zero ID is replaced by a new one.
func (s *Store) AddMember(ctx context.Context, member lending.Member) (lending.Member, error) {
	if err := ctx.Err(); err != nil {
		return lending.Member{}, err
	}

	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}

	member.Holdings = nil

	s.mu.Lock()
	defer s.mu.Unlock()

	s.members[member.ID] = member

	return member, nil
}

// SetMemberActive activates or deactivates a member.
func (s *Store) SetMemberActive(ctx context.Context, memberID uuid.UUID, active bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	member, ok := s.members[memberID]
	if !ok {
		return lending.ErrMemberNotFound
	}

	member.Active = active
	s.members[memberID] = member

	return nil
}

// Books returns a snapshot of all books.
func (s *Store) Books() []lending.Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	books := make([]lending.Book, 0, len(s.books))
	for _, book := range s.books {
		books = append(books, book)
	}

	return books
}

// Members returns a snapshot of all members.
func (s *Store) Members() []lending.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]lending.Member, 0, len(s.members))
	for _, member := range s.members {
		members = append(members, s.withHoldings(member))
	}

	return members
}

// GetBook returns the book with the given ID.
func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (lending.Book, error) {
	if err := ctx.Err(); err != nil {
		return lending.Book{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.books[id]
	if !ok {
		return lending.Book{}, lending.ErrBookNotFound
	}

	return book, nil
}

// GetBookByISBN returns the book with the given ISBN.
func (s *Store) GetBookByISBN(ctx context.Context, isbn string) (lending.Book, error) {
	if err := ctx.Err(); err != nil {
		return lending.Book{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.isbns[isbn]
	if !ok {
		return lending.Book{}, lending.ErrBookNotFound
	}

	return s.books[id], nil
}

// AdjustAvailability applies a keyed change of the available copies if the result stays within [0, total].
func (s *Store) AdjustAvailability(ctx context.Context, adjustment lending.Adjustment) (lending.Book, error) {
	if err := ctx.Err(); err != nil {
		return lending.Book{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[adjustment.BookID]
	if !ok {
		return lending.Book{}, lending.ErrBookNotFound
	}

	if logged, seen := s.adjustments[adjustment.ID]; seen {
		if logged.reverted {
			return lending.Book{}, errors.Join(
				lending.ErrInvariantViolation,
				lending.ErrAdjustmentReverted,
				fmt.Errorf("adjustment %s of book %s", adjustment.ID, adjustment.BookID),
			)
		}

		return book, nil
	}

	book, err := s.shiftAvailable(book, adjustment.Delta)
	if err != nil {
		return lending.Book{}, err
	}

	s.adjustments[adjustment.ID] = loggedAdjustment{Adjustment: adjustment}

	return book, nil
}

// RevertAdjustment undoes an applied adjustment once. An unknown adjustment is logged as reverted.
func (s *Store) RevertAdjustment(ctx context.Context, adjustment lending.Adjustment) (lending.Book, error) {
	if err := ctx.Err(); err != nil {
		return lending.Book{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[adjustment.BookID]
	if !ok {
		return lending.Book{}, lending.ErrBookNotFound
	}

	logged, seen := s.adjustments[adjustment.ID]
	switch {
	case !seen:
		s.adjustments[adjustment.ID] = loggedAdjustment{Adjustment: adjustment, reverted: true}
		return book, nil
	case logged.reverted:
		return book, nil
	}

	book, err := s.shiftAvailable(book, -logged.Delta)
	if err != nil {
		return lending.Book{}, err
	}

	logged.reverted = true
	s.adjustments[adjustment.ID] = logged

	return book, nil
}

// shiftAvailable must be called with the write lock held.
func (s *Store) shiftAvailable(book lending.Book, delta int) (lending.Book, error) {
	next := book.AvailableCopies + delta
	switch {
	case next < 0:
		return lending.Book{}, lending.ErrBookUnavailable
	case next > book.TotalCopies:
		return lending.Book{}, errors.Join(
			lending.ErrInvariantViolation,
			fmt.Errorf("available copies of book %s would exceed total: %d > %d", book.ID, next, book.TotalCopies),
		)
	}

	book.AvailableCopies = next
	s.books[book.ID] = book

	return book, nil
}

// ReconcileCopies sets the total copies of a book, shifting the available copies by the same difference.
func (s *Store) ReconcileCopies(ctx context.Context, id uuid.UUID, newTotal int) (lending.Book, error) {
	if err := ctx.Err(); err != nil {
		return lending.Book{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[id]
	if !ok {
		return lending.Book{}, lending.ErrBookNotFound
	}

	if newTotal < book.CopiesOnLoan() {
		return lending.Book{}, lending.ErrCopiesOnLoan
	}

	book.AvailableCopies += newTotal - book.TotalCopies
	book.TotalCopies = newTotal
	s.books[id] = book

	return book, nil
}

// GetMember returns the member with the given ID.
func (s *Store) GetMember(ctx context.Context, id uuid.UUID) (lending.Member, error) {
	if err := ctx.Err(); err != nil {
		return lending.Member{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	member, ok := s.members[id]
	if !ok {
		return lending.Member{}, lending.ErrMemberNotFound
	}

	return s.withHoldings(member), nil
}

// AddHolding makes the holding of a record held, adding it on first use.
func (s *Store) AddHolding(ctx context.Context, holding lending.Holding) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[holding.MemberID]; !ok {
		return lending.ErrMemberNotFound
	}

	i, exists := s.holdingAt[holding.RecordID]
	if !exists {
		s.holdingAt[holding.RecordID] = len(s.holdings)
		s.holdings = append(s.holdings, heldCopy{Holding: holding})

		return nil
	}

	if s.holdings[i].Holding != holding {
		return errors.Join(lending.ErrInvariantViolation, fmt.Errorf("record %s is held as %+v", holding.RecordID, s.holdings[i].Holding))
	}

	s.holdings[i].released = false

	return nil
}

// RemoveHolding releases the holding of a record. Releasing it again succeeds.
func (s *Store) RemoveHolding(ctx context.Context, holding lending.Holding) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[holding.MemberID]; !ok {
		return lending.ErrMemberNotFound
	}

	i, exists := s.holdingAt[holding.RecordID]
	if !exists || s.holdings[i].MemberID != holding.MemberID {
		return errors.Join(
			lending.ErrInvariantViolation,
			lending.ErrHoldingNotFound,
			fmt.Errorf("member %s holds no copy for record %s", holding.MemberID, holding.RecordID),
		)
	}

	s.holdings[i].released = true

	return nil
}

// Insert stores a new borrow record.
func (s *Store) Insert(ctx context.Context, record lending.BorrowRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return errors.Join(lending.ErrInvariantViolation, fmt.Errorf("borrow record %s already exists", record.ID))
	}

	s.records[record.ID] = record

	return nil
}

// Get returns the borrow record with the given ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (lending.BorrowRecord, error) {
	if err := ctx.Err(); err != nil {
		return lending.BorrowRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return lending.BorrowRecord{}, lending.ErrRecordNotFound
	}

	return record, nil
}

// MarkReturned transitions a Borrowed record to Returned.
func (s *Store) MarkReturned(ctx context.Context, id uuid.UUID, returnDate time.Time, fine int64) (lending.BorrowRecord, error) {
	if err := ctx.Err(); err != nil {
		return lending.BorrowRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return lending.BorrowRecord{}, lending.ErrRecordNotFound
	}

	if record.Status != lending.StatusBorrowed {
		return lending.BorrowRecord{}, lending.ErrAlreadyReturned
	}

	returnDate = lending.ToTimestamp(returnDate)
	record.Status = lending.StatusReturned
	record.ReturnDate = &returnDate
	record.Fine = fine
	s.records[id] = record

	return record, nil
}

// Void deletes a Borrowed record whose borrow could not be completed.
func (s *Store) Void(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return lending.ErrRecordNotFound
	}

	if record.Status != lending.StatusBorrowed {
		return lending.ErrAlreadyReturned
	}

	delete(s.records, id)

	return nil
}

// Reopen reverts a Returned record to Borrowed after its return could not be completed.
func (s *Store) Reopen(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return lending.ErrRecordNotFound
	}

	if record.Status != lending.StatusReturned {
		return errors.Join(lending.ErrInvariantViolation, fmt.Errorf("borrow record %s is not returned", id))
	}

	record.Status = lending.StatusBorrowed
	record.ReturnDate = nil
	record.Fine = 0
	s.records[id] = record

	return nil
}

// List returns one page of records matching the query.
func (s *Store) List(ctx context.Context, query lending.RecordQuery) (lending.RecordPage, error) {
	if err := ctx.Err(); err != nil {
		return lending.RecordPage{}, err
	}

	query, err := query.Normalize()
	if err != nil {
		return lending.RecordPage{}, err
	}

	s.mu.RLock()
	matching := make([]lending.BorrowRecord, 0)
	for _, record := range s.records {
		if matches(query.Filter, record) {
			matching = append(matching, record)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matching, func(a, b lending.BorrowRecord) int {
		if c := compareBy(query.SortBy, a, b); c != 0 {
			if query.Order == lending.Descending {
				return -c
			}
			return c
		}

		return compareIDs(a.ID, b.ID)
	})

	total := len(matching)
	from := min(query.Offset(), total)
	to := min(from+query.PageSize, total)

	return lending.BuildRecordPage(query, matching[from:to], total), nil
}

// ListOverdue returns the Borrowed records due strictly before asOf, ordered by due date, then ID.
func (s *Store) ListOverdue(ctx context.Context, asOf time.Time) ([]lending.BorrowRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	overdue := make([]lending.BorrowRecord, 0)
	for _, record := range s.records {
		if record.IsOverdue(asOf) {
			overdue = append(overdue, record)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(overdue, func(a, b lending.BorrowRecord) int {
		if c := a.DueDate.Compare(b.DueDate); c != 0 {
			return c
		}

		return compareIDs(a.ID, b.ID)
	})

	return overdue, nil
}

func matches(filter lending.RecordFilter, record lending.BorrowRecord) bool {
	if filter.MemberID != uuid.Nil && record.MemberID != filter.MemberID {
		return false
	}

	if filter.BookID != uuid.Nil && record.BookID != filter.BookID {
		return false
	}

	if filter.Status != "" && record.Status != filter.Status {
		return false
	}

	return true
}

func compareBy(field lending.SortField, a, b lending.BorrowRecord) int {
	switch field {
	case lending.SortByBookID:
		return compareIDs(a.BookID, b.BookID)
	case lending.SortByMemberID:
		return compareIDs(a.MemberID, b.MemberID)
	case lending.SortByBorrowDate:
		return a.BorrowDate.Compare(b.BorrowDate)
	case lending.SortByDueDate:
		return a.DueDate.Compare(b.DueDate)
	case lending.SortByReturnDate:
		return compareReturnDates(a.ReturnDate, b.ReturnDate)
	case lending.SortByStatus:
		return strings.Compare(string(a.Status), string(b.Status))
	case lending.SortByFine:
		switch {
		case a.Fine < b.Fine:
			return -1
		case a.Fine > b.Fine:
			return 1
		}
		return 0
	default:
		return compareIDs(a.ID, b.ID)
	}
}

// compareReturnDates orders records without a return date first.
func compareReturnDates(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}

func compareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// withHoldings must be called with the lock held.
func (s *Store) withHoldings(member lending.Member) lending.Member {
	member.Holdings = make([]uuid.UUID, 0)
	for _, held := range s.holdings {
		if held.MemberID == member.ID && !held.released {
			member.Holdings = append(member.Holdings, held.BookID)
		}
	}

	return member
}
