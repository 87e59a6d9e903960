// Package adapters provide the database adapter implementations for the SQL lending store.
//
// The store supports pgxpool.Pool, sql.DB, and sqlx.DB. Every adapter executes fully
// interpolated SQL strings and presents the same DBAdapter interface, so the store code
// never depends on a concrete driver.
package adapters
