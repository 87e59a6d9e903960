// Package sqlengine provides a SQL implementation of the lending collaborator stores.
//
// One Store implements lending.CatalogStore, lending.MemberStore, and lending.Ledger on top of
// PostgreSQL (pgx, sql.DB with lib/pq, or sqlx) or SQLite (sql.DB with modernc.org/sqlite).
// Every mutation the lending engine relies on is conditional and safe to repeat:
//
//   - AdjustAvailability, RevertAdjustment: one transaction that logs the adjustment key and runs an
//     UPDATE ... RETURNING guarded by 0 <= available + delta <= total
//   - MarkReturned, Void, Reopen: UPDATE or DELETE guarded by the current status
//   - AddHolding: restores the record's holding row or inserts it by INSERT ... SELECT from the member row
//   - RemoveHolding: marks the record's holding row released
//
// Integrity constraint violations are reported as lending.ErrInvariantViolation, every other driver
// failure as the retryable lending.ErrStorageUnavailable.
//
// Timestamps are stored as BIGINT Unix microseconds so both dialects compare and sort them the same way.
//
// Usage examples:
//
//	pool, _ := pgxpool.New(ctx, dsn)
//	store, _ := sqlengine.NewStoreFromPGXPool(pool, sqlengine.WithLogger(logger))
//	_ = store.CreateSchema(ctx)
//
//	db, _ := sql.Open("sqlite", "file:lending.db")
//	store, _ := sqlengine.NewStoreFromSQLDB(db, sqlengine.WithDialect(sqlengine.DialectSQLite))
//
//	engine, _ := lending.NewEngine(store, store, store)
package sqlengine
