package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/lending/sqlengine/internal/adapters"
)

var (
	// ErrBuildingQueryFailed is returned when goqu cannot render a statement.
	ErrBuildingQueryFailed = errors.New("building sql statement failed")

	// ErrQueryingFailed is returned when a query could not be executed.
	ErrQueryingFailed = errors.New("executing sql query failed")

	// ErrExecutingFailed is returned when a statement could not be executed.
	ErrExecutingFailed = errors.New("executing sql statement failed")

	// ErrScanningRowFailed is returned when a result row cannot be scanned.
	ErrScanningRowFailed = errors.New("scanning database row failed")

	// ErrGettingRowsAffectedFailed is returned when the driver cannot report affected rows.
	ErrGettingRowsAffectedFailed = errors.New("getting rows affected failed")

	// ErrCorruptRow is returned when a stored row cannot be converted into a domain value.
	ErrCorruptRow = errors.New("stored row is not valid")

	// ErrConstraintViolated is returned when the database rejects a statement for breaking an integrity constraint.
	ErrConstraintViolated = errors.New("database integrity constraint violated")

	// ErrTransactionFailed is returned when a transaction could not be started or committed.
	ErrTransactionFailed = errors.New("database transaction failed")
)

const sqlStateIntegrityClass = "23"

const (
	defaultBooksTable    = "books"
	defaultMembersTable  = "members"
	defaultHoldingsTable    = "holdings"
	defaultRecordsTable     = "borrow_records"
	defaultAdjustmentsTable = "availability_adjustments"

	colID              = "id"
	colTitle           = "title"
	colAuthor          = "author"
	colISBN            = "isbn"
	colCategory        = "category"
	colPublishedYear   = "published_year"
	colTotalCopies     = "total_copies"
	colAvailableCopies = "available_copies"
	colName            = "name"
	colEmail           = "email"
	colPhone           = "phone"
	colActive          = "active"
	colMemberID        = "member_id"
	colBookID          = "book_id"
	colBorrowDate      = "borrow_date"
	colDueDate         = "due_date"
	colReturnDate      = "return_date"
	colStatus          = "status"
	colFine            = "fine"
	colRecordID        = "record_id"
	colReleased        = "released"
	colDelta           = "delta"
	colReverted        = "reverted"
)

type tables struct {
	books       string
	members     string
	holdings    string
	records     string
	adjustments string
}

func tableNames(prefix string) tables {
	return tables{
		books:       prefix + defaultBooksTable,
		members:     prefix + defaultMembersTable,
		holdings:    prefix + defaultHoldingsTable,
		records:     prefix + defaultRecordsTable,
		adjustments: prefix + defaultAdjustmentsTable,
	}
}

// Store implements lending.CatalogStore, lending.MemberStore, and lending.Ledger on a SQL database.
type Store struct {
	db      adapters.DBAdapter
	dialect string
	tables  tables

	logger           lending.Logger
	contextualLogger lending.ContextualLogger
	metricsCollector lending.MetricsCollector
	tracingCollector lending.TracingCollector
}

// NewStoreFromPGXPool creates a new Store using a pgx Pool with optional configuration.
func NewStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewPGXAdapter(db), options...)
}

// NewStoreFromSQLDB creates a new Store using a sql.DB with optional configuration.
// Use WithDialect(DialectSQLite) for SQLite databases.
func NewStoreFromSQLDB(db *sql.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLAdapter(db), options...)
}

// NewStoreFromSQLX creates a new Store using a sqlx.DB with optional configuration.
func NewStoreFromSQLX(db *sqlx.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLXAdapter(db), options...)
}

func newStore(db adapters.DBAdapter, options ...Option) (*Store, error) {
	s := &Store{
		db:      db,
		dialect: DialectPostgres,
		tables:  tableNames(""),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) sql() goqu.DialectWrapper {
	return goqu.Dialect(s.dialect)
}

// toSQL renders a goqu statement with all values interpolated.
func (s *Store) toSQL(operation string, stmt interface{ ToSQL() (string, []any, error) }) (string, error) {
	sqlQuery, _, err := stmt.ToSQL()
	if err != nil {
		s.logError(context.Background(), logMsgBuildQueryFailed, err, logAttrOperation, operation)
		return "", errors.Join(lending.ErrInvariantViolation, ErrBuildingQueryFailed, err)
	}

	return sqlQuery, nil
}

// exec runs one statement and returns the number of affected rows.
func (s *Store) exec(ctx context.Context, operation string, sqlQuery string) (int64, error) {
	return s.execOn(ctx, s.db, operation, sqlQuery)
}

// query runs one query and calls scan for each row.
func (s *Store) query(ctx context.Context, operation string, sqlQuery string, scan func(rows adapters.DBRows) error) error {
	return s.queryOn(ctx, s.db, operation, sqlQuery, scan)
}

func (s *Store) execOn(ctx context.Context, db adapters.DBExecutor, operation string, sqlQuery string) (int64, error) {
	ctx, span := s.startSpan(ctx, operation)
	start := time.Now()

	result, err := db.Exec(ctx, sqlQuery)
	duration := time.Since(start)
	s.logQueryWithDuration(ctx, operation, sqlQuery, duration)

	if err != nil {
		s.finishSpan(span, operation, duration, err)
		return 0, s.storageError(ctx, operation, sqlQuery, ErrExecutingFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		s.finishSpan(span, operation, duration, err)
		return 0, s.storageError(ctx, operation, sqlQuery, ErrGettingRowsAffectedFailed, err)
	}

	s.finishSpan(span, operation, duration, nil)

	return rowsAffected, nil
}

func (s *Store) queryOn(ctx context.Context, db adapters.DBExecutor, operation string, sqlQuery string, scan func(rows adapters.DBRows) error) error {
	ctx, span := s.startSpan(ctx, operation)
	start := time.Now()

	rows, err := db.Query(ctx, sqlQuery)
	if err != nil {
		duration := time.Since(start)
		s.logQueryWithDuration(ctx, operation, sqlQuery, duration)
		s.finishSpan(span, operation, duration, err)

		return s.storageError(ctx, operation, sqlQuery, ErrQueryingFailed, err)
	}
	defer s.closeRows(ctx, rows)

	for rows.Next() {
		if err = scan(rows); err != nil {
			break
		}
	}

	if err == nil {
		err = rows.Err()
	}

	duration := time.Since(start)
	s.logQueryWithDuration(ctx, operation, sqlQuery, duration)
	s.finishSpan(span, operation, duration, err)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCorruptRow):
		s.logError(ctx, logMsgScanRowFailed, err, logAttrOperation, operation)
		return errors.Join(lending.ErrInvariantViolation, err)
	default:
		return s.storageError(ctx, operation, sqlQuery, ErrScanningRowFailed, err)
	}
}

// inTx runs fn in one transaction. fn must use tx for every statement: SQLite pools hold a single connection.
// The transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) inTx(ctx context.Context, operation string, fn func(tx adapters.DBExecutor) error) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return s.storageError(ctx, operation, "BEGIN", ErrTransactionFailed, err)
	}

	if err = fn(tx); err != nil {
		if rollbackErr := tx.Rollback(context.WithoutCancel(ctx)); rollbackErr != nil {
			s.logWarn(ctx, logMsgRollbackFailed, logAttrOperation, operation, logAttrError, rollbackErr.Error())
		}

		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return s.storageError(ctx, operation, "COMMIT", ErrTransactionFailed, err)
	}

	return nil
}

// closeRows safely closes database rows and logs any errors.
func (s *Store) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		s.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

// storageError classifies a driver failure and keeps the context error visible.
// Integrity constraint violations are deterministic and become lending.ErrInvariantViolation;
// everything else is lending.ErrStorageUnavailable.
func (s *Store) storageError(ctx context.Context, operation string, sqlQuery string, sentinel error, cause error) error {
	s.logError(ctx, logMsgDBStatementFailed, cause, logAttrOperation, operation, logAttrQuery, sqlQuery)
	s.recordDatabaseError(ctx, operation)

	if isConstraintViolation(cause) {
		return errors.Join(lending.ErrInvariantViolation, ErrConstraintViolated, sentinel, cause)
	}

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(cause, ctxErr) {
		return errors.Join(lending.ErrStorageUnavailable, sentinel, cause, ctxErr)
	}

	return errors.Join(lending.ErrStorageUnavailable, sentinel, cause)
}

// isConstraintViolation recognizes SQLSTATE class 23 from pgx and lib/pq, and SQLITE_CONSTRAINT
// with any extended code from modernc sqlite.
func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, sqlStateIntegrityClass)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code.Class()) == sqlStateIntegrityClass
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}

	return false
}

// count runs a query returning a single integer.
func (s *Store) count(ctx context.Context, operation string, sqlQuery string) (int, error) {
	var total int64

	err := s.query(ctx, operation, sqlQuery, func(rows adapters.DBRows) error {
		return rows.Scan(&total)
	})

	return int(total), err
}

func toMicros(t time.Time) int64 {
	return lending.ToTimestamp(t).UnixMicro()
}

func fromMicros(micros int64) time.Time {
	return time.UnixMicro(micros).UTC()
}
