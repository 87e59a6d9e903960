package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/lending/sqlengine/internal/adapters"
)

var recordColumns = []any{
	colID, colBookID, colMemberID, colBorrowDate, colDueDate, colReturnDate, colStatus, colFine,
}

var sortColumns = map[lending.SortField]string{
	lending.SortByID:         colID,
	lending.SortByBookID:     colBookID,
	lending.SortByMemberID:   colMemberID,
	lending.SortByBorrowDate: colBorrowDate,
	lending.SortByDueDate:    colDueDate,
	lending.SortByReturnDate: colReturnDate,
	lending.SortByStatus:     colStatus,
	lending.SortByFine:       colFine,
}

// Insert stores a new Borrowed record.
func (s *Store) Insert(ctx context.Context, record lending.BorrowRecord) error {
	row := goqu.Record{
		colID:         record.ID.String(),
		colBookID:     record.BookID.String(),
		colMemberID:   record.MemberID.String(),
		colBorrowDate: toMicros(record.BorrowDate),
		colDueDate:    toMicros(record.DueDate),
		colReturnDate: nil,
		colStatus:     string(record.Status),
		colFine:       record.Fine,
	}

	if record.ReturnDate != nil {
		row[colReturnDate] = toMicros(*record.ReturnDate)
	}

	sqlQuery, err := s.toSQL("insert_record", s.sql().
		Insert(s.tables.records).
		Rows(row).
		OnConflict(goqu.DoNothing()))
	if err != nil {
		return err
	}

	rowsAffected, err := s.exec(ctx, "insert_record", sqlQuery)
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return errors.Join(lending.ErrInvariantViolation, fmt.Errorf("borrow record %s already exists", record.ID))
	}

	return nil
}

// Get returns the record with the given ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (lending.BorrowRecord, error) {
	sqlQuery, err := s.toSQL("get_record", s.sql().
		From(s.tables.records).
		Select(recordColumns...).
		Where(goqu.C(colID).Eq(id.String())))
	if err != nil {
		return lending.BorrowRecord{}, err
	}

	records, err := s.queryRecords(ctx, "get_record", sqlQuery)
	if err != nil {
		return lending.BorrowRecord{}, err
	}

	if len(records) == 0 {
		return lending.BorrowRecord{}, lending.ErrRecordNotFound
	}

	return records[0], nil
}

// MarkReturned moves a Borrowed record to Returned in one UPDATE guarded by the Borrowed status.
func (s *Store) MarkReturned(ctx context.Context, id uuid.UUID, returnDate time.Time, fine int64) (lending.BorrowRecord, error) {
	rowsAffected, err := s.execUpdate(ctx, "mark_returned", s.sql().
		Update(s.tables.records).
		Set(goqu.Record{
			colStatus:     string(lending.StatusReturned),
			colReturnDate: toMicros(returnDate),
			colFine:       fine,
		}).
		Where(
			goqu.C(colID).Eq(id.String()),
			goqu.C(colStatus).Eq(string(lending.StatusBorrowed)),
		))
	if err != nil {
		return lending.BorrowRecord{}, err
	}

	record, err := s.Get(ctx, id)
	if err != nil {
		return lending.BorrowRecord{}, err
	}

	if rowsAffected == 0 {
		return lending.BorrowRecord{}, lending.ErrAlreadyReturned
	}

	return record, nil
}

// Void deletes a Borrowed record whose borrow could not be completed.
func (s *Store) Void(ctx context.Context, id uuid.UUID) error {
	sqlQuery, err := s.toSQL("void_record", s.sql().
		Delete(s.tables.records).
		Where(
			goqu.C(colID).Eq(id.String()),
			goqu.C(colStatus).Eq(string(lending.StatusBorrowed)),
		))
	if err != nil {
		return err
	}

	rowsAffected, err := s.exec(ctx, "void_record", sqlQuery)
	if err != nil {
		return err
	}

	if rowsAffected > 0 {
		return nil
	}

	if _, err = s.Get(ctx, id); err != nil {
		return err
	}

	return lending.ErrAlreadyReturned
}

// Reopen reverts a Returned record to Borrowed after its return could not be completed.
func (s *Store) Reopen(ctx context.Context, id uuid.UUID) error {
	rowsAffected, err := s.execUpdate(ctx, "reopen_record", s.sql().
		Update(s.tables.records).
		Set(goqu.Record{
			colStatus:     string(lending.StatusBorrowed),
			colReturnDate: nil,
			colFine:       0,
		}).
		Where(
			goqu.C(colID).Eq(id.String()),
			goqu.C(colStatus).Eq(string(lending.StatusReturned)),
		))
	if err != nil {
		return err
	}

	if rowsAffected > 0 {
		return nil
	}

	if _, err = s.Get(ctx, id); err != nil {
		return err
	}

	return errors.Join(lending.ErrInvariantViolation, fmt.Errorf("borrow record %s is not returned", id))
}

// List returns one page of records matching the query.
// Ties on the sort field are broken by ascending ID. Records without a return date sort first
// in ascending order and last in descending order.
func (s *Store) List(ctx context.Context, query lending.RecordQuery) (lending.RecordPage, error) {
	query, err := query.Normalize()
	if err != nil {
		return lending.RecordPage{}, err
	}

	where := filterExpressions(query.Filter)

	countQuery, err := s.toSQL("count_records", s.sql().
		From(s.tables.records).
		Select(goqu.COUNT(goqu.Star())).
		Where(where...))
	if err != nil {
		return lending.RecordPage{}, err
	}

	total, err := s.count(ctx, "count_records", countQuery)
	if err != nil {
		return lending.RecordPage{}, err
	}

	pageQuery, err := s.toSQL("list_records", s.sql().
		From(s.tables.records).
		Select(recordColumns...).
		Where(where...).
		Order(orderExpression(query), goqu.C(colID).Asc()).
		Limit(uint(query.PageSize)).
		Offset(uint(query.Offset())))
	if err != nil {
		return lending.RecordPage{}, err
	}

	records, err := s.queryRecords(ctx, "list_records", pageQuery)
	if err != nil {
		return lending.RecordPage{}, err
	}

	return lending.BuildRecordPage(query, records, total), nil
}

// ListOverdue returns the Borrowed records due strictly before asOf, ordered by due date, then ID.
func (s *Store) ListOverdue(ctx context.Context, asOf time.Time) ([]lending.BorrowRecord, error) {
	sqlQuery, err := s.toSQL("list_overdue", s.sql().
		From(s.tables.records).
		Select(recordColumns...).
		Where(
			goqu.C(colStatus).Eq(string(lending.StatusBorrowed)),
			goqu.C(colDueDate).Lt(toMicros(asOf)),
		).
		Order(goqu.C(colDueDate).Asc(), goqu.C(colID).Asc()))
	if err != nil {
		return nil, err
	}

	return s.queryRecords(ctx, "list_overdue", sqlQuery)
}

func filterExpressions(filter lending.RecordFilter) []exp.Expression {
	where := make([]exp.Expression, 0, 3)

	if filter.MemberID != uuid.Nil {
		where = append(where, goqu.C(colMemberID).Eq(filter.MemberID.String()))
	}

	if filter.BookID != uuid.Nil {
		where = append(where, goqu.C(colBookID).Eq(filter.BookID.String()))
	}

	if filter.Status != "" {
		where = append(where, goqu.C(colStatus).Eq(string(filter.Status)))
	}

	return where
}

func orderExpression(query lending.RecordQuery) exp.OrderedExpression {
	column := goqu.C(sortColumns[query.SortBy])

	if query.Order == lending.Descending {
		return column.Desc().NullsLast()
	}

	return column.Asc().NullsFirst()
}

func (s *Store) queryRecords(ctx context.Context, operation string, sqlQuery string) ([]lending.BorrowRecord, error) {
	records := make([]lending.BorrowRecord, 0)

	err := s.query(ctx, operation, sqlQuery, func(rows adapters.DBRows) error {
		record, scanErr := scanRecord(rows)
		if scanErr != nil {
			return scanErr
		}

		records = append(records, record)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

func scanRecord(rows adapters.DBRows) (lending.BorrowRecord, error) {
	var (
		rawID, rawBookID, rawMemberID string
		borrowDate, dueDate           int64
		returnDate                    sql.NullInt64
		status                        string
		fine                          int64
	)

	if err := rows.Scan(&rawID, &rawBookID, &rawMemberID, &borrowDate, &dueDate, &returnDate, &status, &fine); err != nil {
		return lending.BorrowRecord{}, err
	}

	ids := make([]uuid.UUID, 3)
	for i, raw := range []string{rawID, rawBookID, rawMemberID} {
		id, err := uuid.Parse(raw)
		if err != nil {
			return lending.BorrowRecord{}, errors.Join(ErrCorruptRow, err)
		}
		ids[i] = id
	}

	record := lending.BorrowRecord{
		ID:         ids[0],
		BookID:     ids[1],
		MemberID:   ids[2],
		BorrowDate: fromMicros(borrowDate),
		DueDate:    fromMicros(dueDate),
		Status:     lending.Status(status),
		Fine:       fine,
	}

	if !record.Status.Valid() {
		return lending.BorrowRecord{}, errors.Join(ErrCorruptRow, fmt.Errorf("unknown status %q", status))
	}

	if returnDate.Valid {
		returned := fromMicros(returnDate.Int64)
		record.ReturnDate = &returned
	}

	return record, nil
}
