package sqlengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/lending/sqlengine/internal/adapters"
)

// ErrInvalidBook is returned by AddBook for books that cannot be stored.
var ErrInvalidBook = errors.New("book is not valid")

var bookColumnNames = []string{
	colID, colTitle, colAuthor, colISBN, colCategory, colPublishedYear, colTotalCopies, colAvailableCopies,
}

var bookColumns = columnsOf(bookColumnNames)

// errGuardRejected makes inTx roll back when a guarded UPDATE matched no row.
var errGuardRejected = errors.New("guarded update matched no row")

// AddBook adds a book to the catalog with all copies available. A zero ID is replaced by a new one.
func (s *Store) AddBook(ctx context.Context, book lending.Book) (lending.Book, error) {
	if book.TotalCopies < 0 || strings.TrimSpace(book.ISBN) == "" {
		return lending.Book{}, errors.Join(ErrInvalidBook, fmt.Errorf("isbn %q with %d copies", book.ISBN, book.TotalCopies))
	}

	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}

	book.AvailableCopies = book.TotalCopies

	sqlQuery, err := s.toSQL("add_book", s.sql().
		Insert(s.tables.books).
		Rows(goqu.Record{
			colID:              book.ID.String(),
			colTitle:           book.Title,
			colAuthor:          book.Author,
			colISBN:            book.ISBN,
			colCategory:        book.Category,
			colPublishedYear:   book.PublishedYear,
			colTotalCopies:     book.TotalCopies,
			colAvailableCopies: book.AvailableCopies,
		}).
		OnConflict(goqu.DoNothing()))
	if err != nil {
		return lending.Book{}, err
	}

	rowsAffected, err := s.exec(ctx, "add_book", sqlQuery)
	if err != nil {
		return lending.Book{}, err
	}

	if rowsAffected == 0 {
		if _, lookupErr := s.GetBookByISBN(ctx, book.ISBN); lookupErr == nil {
			return lending.Book{}, lending.ErrDuplicateISBN
		}

		return lending.Book{}, errors.Join(lending.ErrInvariantViolation, fmt.Errorf("book %s already exists", book.ID))
	}

	return book, nil
}

// GetBook returns the book with the given ID.
func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (lending.Book, error) {
	return s.getBookWhere(ctx, "get_book", goqu.C(colID).Eq(id.String()))
}

// GetBookByISBN returns the book with the given ISBN.
func (s *Store) GetBookByISBN(ctx context.Context, isbn string) (lending.Book, error) {
	return s.getBookWhere(ctx, "get_book_by_isbn", goqu.C(colISBN).Eq(isbn))
}

func (s *Store) getBookWhere(ctx context.Context, operation string, where goqu.Expression) (lending.Book, error) {
	book, found, err := s.selectBook(ctx, s.db, operation, where)
	if err != nil {
		return lending.Book{}, err
	}

	if !found {
		return lending.Book{}, lending.ErrBookNotFound
	}

	return book, nil
}

func (s *Store) selectBook(ctx context.Context, db adapters.DBExecutor, operation string, where goqu.Expression) (lending.Book, bool, error) {
	sqlQuery, err := s.toSQL(operation, s.sql().From(s.tables.books).Select(bookColumns...).Where(where))
	if err != nil {
		return lending.Book{}, false, err
	}

	return s.queryBook(ctx, db, operation, sqlQuery)
}

func (s *Store) queryBook(ctx context.Context, db adapters.DBExecutor, operation string, sqlQuery string) (lending.Book, bool, error) {
	var (
		book  lending.Book
		found bool
	)

	err := s.queryOn(ctx, db, operation, sqlQuery, func(rows adapters.DBRows) error {
		b, scanErr := scanBook(rows)
		book, found = b, true

		return scanErr
	})
	if err != nil {
		return lending.Book{}, false, err
	}

	return book, found, nil
}

// AdjustAvailability applies a keyed change of the available copies in one transaction: the key is
// logged first, so a repeated key finds its row and changes nothing, then a guarded UPDATE moves
// the counter and returns the book.
func (s *Store) AdjustAvailability(ctx context.Context, adjustment lending.Adjustment) (lending.Book, error) {
	var book lending.Book

	err := s.inTx(ctx, "adjust_availability", func(tx adapters.DBExecutor) error {
		logged, err := s.logAdjustment(ctx, tx, adjustment, false)
		if err != nil {
			return err
		}

		if !logged {
			_, reverted, err := s.loggedAdjustment(ctx, tx, adjustment.ID)
			if err != nil {
				return err
			}

			if reverted {
				return errors.Join(
					lending.ErrInvariantViolation,
					lending.ErrAdjustmentReverted,
					fmt.Errorf("adjustment %s of book %s", adjustment.ID, adjustment.BookID),
				)
			}

			return s.currentBook(ctx, tx, adjustment.BookID, &book)
		}

		book, err = s.shiftAvailable(ctx, tx, adjustment.BookID, adjustment.Delta)

		return err
	})

	return s.adjusted(ctx, book, err, adjustment.BookID, adjustment.Delta)
}

// RevertAdjustment undoes an applied adjustment in one transaction. An unknown key is logged as
// reverted, so the adjustment it names can no longer be applied.
func (s *Store) RevertAdjustment(ctx context.Context, adjustment lending.Adjustment) (lending.Book, error) {
	var (
		book  lending.Book
		shift int
	)

	err := s.inTx(ctx, "revert_adjustment", func(tx adapters.DBExecutor) error {
		tombstoned, err := s.logAdjustment(ctx, tx, adjustment, true)
		if err != nil {
			return err
		}

		if tombstoned {
			return s.currentBook(ctx, tx, adjustment.BookID, &book)
		}

		flipped, err := s.execUpdateOn(ctx, tx, "mark_adjustment_reverted", s.sql().
			Update(s.tables.adjustments).
			Set(goqu.Record{colReverted: true}).
			Where(
				goqu.C(colID).Eq(adjustment.ID.String()),
				goqu.C(colReverted).IsFalse(),
			))
		if err != nil {
			return err
		}

		if flipped == 0 {
			return s.currentBook(ctx, tx, adjustment.BookID, &book)
		}

		delta, _, err := s.loggedAdjustment(ctx, tx, adjustment.ID)
		if err != nil {
			return err
		}

		shift = -delta
		book, err = s.shiftAvailable(ctx, tx, adjustment.BookID, shift)

		return err
	})

	return s.adjusted(ctx, book, err, adjustment.BookID, shift)
}

// logAdjustment inserts the adjustment into the log unless its key is already there.
func (s *Store) logAdjustment(ctx context.Context, tx adapters.DBExecutor, adjustment lending.Adjustment, reverted bool) (bool, error) {
	sqlQuery, err := s.toSQL("log_adjustment", s.sql().
		Insert(s.tables.adjustments).
		Rows(goqu.Record{
			colID:       adjustment.ID.String(),
			colBookID:   adjustment.BookID.String(),
			colRecordID: adjustment.RecordID.String(),
			colDelta:    adjustment.Delta,
			colReverted: reverted,
		}).
		OnConflict(goqu.DoNothing()))
	if err != nil {
		return false, err
	}

	rowsAffected, err := s.execOn(ctx, tx, "log_adjustment", sqlQuery)

	return rowsAffected > 0, err
}

func (s *Store) loggedAdjustment(ctx context.Context, tx adapters.DBExecutor, id uuid.UUID) (delta int, reverted bool, err error) {
	sqlQuery, err := s.toSQL("get_adjustment", s.sql().
		From(s.tables.adjustments).
		Select(colDelta, colReverted).
		Where(goqu.C(colID).Eq(id.String())))
	if err != nil {
		return 0, false, err
	}

	var (
		stored int64
		found  bool
	)

	err = s.queryOn(ctx, tx, "get_adjustment", sqlQuery, func(rows adapters.DBRows) error {
		found = true
		return rows.Scan(&stored, &reverted)
	})
	if err != nil {
		return 0, false, err
	}

	if !found {
		return 0, false, errors.Join(lending.ErrInvariantViolation, fmt.Errorf("adjustment %s is not logged", id))
	}

	return int(stored), reverted, nil
}

func (s *Store) currentBook(ctx context.Context, tx adapters.DBExecutor, id uuid.UUID, book *lending.Book) error {
	current, found, err := s.selectBook(ctx, tx, "get_book", goqu.C(colID).Eq(id.String()))
	if err != nil {
		return err
	}

	if !found {
		return lending.ErrBookNotFound
	}

	*book = current

	return nil
}

// shiftAvailable adds delta to the available copies in one UPDATE guarded by 0 <= available + delta <= total.
func (s *Store) shiftAvailable(ctx context.Context, tx adapters.DBExecutor, id uuid.UUID, delta int) (lending.Book, error) {
	available := goqu.C(colAvailableCopies)

	sqlQuery, err := s.updateReturningBook("adjust_availability", s.sql().
		Update(s.tables.books).
		Set(goqu.Record{colAvailableCopies: goqu.L("? + ?", available, delta)}).
		Where(
			goqu.C(colID).Eq(id.String()),
			goqu.L("? + ? >= 0", available, delta),
			goqu.L("? + ? <= ?", available, delta, goqu.C(colTotalCopies)),
		))
	if err != nil {
		return lending.Book{}, err
	}

	book, shifted, err := s.queryBook(ctx, tx, "adjust_availability", sqlQuery)
	if err != nil {
		return lending.Book{}, err
	}

	if !shifted {
		return lending.Book{}, errGuardRejected
	}

	return book, nil
}

// adjusted classifies a rejected shift once its transaction is rolled back.
func (s *Store) adjusted(ctx context.Context, book lending.Book, err error, id uuid.UUID, delta int) (lending.Book, error) {
	if err == nil {
		return book, nil
	}

	if !errors.Is(err, errGuardRejected) {
		return lending.Book{}, err
	}

	current, err := s.GetBook(ctx, id)
	if err != nil {
		return lending.Book{}, err
	}

	if delta < 0 {
		return lending.Book{}, lending.ErrBookUnavailable
	}

	return lending.Book{}, errors.Join(
		lending.ErrInvariantViolation,
		fmt.Errorf("available copies of book %s would exceed total: %d + %d > %d", id, current.AvailableCopies, delta, current.TotalCopies),
	)
}

// ReconcileCopies sets the total copies and shifts the available copies by the same difference in one guarded UPDATE.
func (s *Store) ReconcileCopies(ctx context.Context, id uuid.UUID, newTotal int) (lending.Book, error) {
	if newTotal < 0 {
		return lending.Book{}, lending.ErrInvalidCopyCount
	}

	total := goqu.C(colTotalCopies)
	available := goqu.C(colAvailableCopies)

	sqlQuery, err := s.updateReturningBook("reconcile_copies", s.sql().
		Update(s.tables.books).
		Set(goqu.Record{
			colTotalCopies:     newTotal,
			colAvailableCopies: goqu.L("? + ? - ?", available, newTotal, total),
		}).
		Where(
			goqu.C(colID).Eq(id.String()),
			goqu.L("? - ? <= ?", total, available, newTotal),
		))
	if err != nil {
		return lending.Book{}, err
	}

	book, reconciled, err := s.queryBook(ctx, s.db, "reconcile_copies", sqlQuery)
	if err != nil {
		return lending.Book{}, err
	}

	if reconciled {
		return book, nil
	}

	if _, err = s.GetBook(ctx, id); err != nil {
		return lending.Book{}, err
	}

	return lending.Book{}, lending.ErrCopiesOnLoan
}

// updateReturningBook renders an UPDATE that returns the updated book row.
// goqu's sqlite3 dialect refuses RETURNING, which SQLite supports since 3.35, so it is appended there.
func (s *Store) updateReturningBook(operation string, stmt *goqu.UpdateDataset) (string, error) {
	if s.dialect != DialectSQLite {
		return s.toSQL(operation, stmt.Returning(bookColumns...))
	}

	sqlQuery, err := s.toSQL(operation, stmt)
	if err != nil {
		return "", err
	}

	return sqlQuery + " RETURNING " + strings.Join(bookColumnNames, ", "), nil
}

func (s *Store) execUpdate(ctx context.Context, operation string, stmt *goqu.UpdateDataset) (int64, error) {
	return s.execUpdateOn(ctx, s.db, operation, stmt)
}

func (s *Store) execUpdateOn(ctx context.Context, db adapters.DBExecutor, operation string, stmt *goqu.UpdateDataset) (int64, error) {
	sqlQuery, err := s.toSQL(operation, stmt)
	if err != nil {
		return 0, err
	}

	return s.execOn(ctx, db, operation, sqlQuery)
}

func columnsOf(names []string) []any {
	columns := make([]any, 0, len(names))
	for _, name := range names {
		columns = append(columns, name)
	}

	return columns
}

func scanBook(rows adapters.DBRows) (lending.Book, error) {
	var (
		book                  lending.Book
		rawID                 string
		publishedYear         int64
		total, availableCount int64
	)

	if err := rows.Scan(
		&rawID, &book.Title, &book.Author, &book.ISBN, &book.Category, &publishedYear, &total, &availableCount,
	); err != nil {
		return lending.Book{}, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return lending.Book{}, errors.Join(ErrCorruptRow, err)
	}

	book.ID = id
	book.PublishedYear = int(publishedYear)
	book.TotalCopies = int(total)
	book.AvailableCopies = int(availableCount)

	return book, nil
}
