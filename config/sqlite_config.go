package config

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite" // sqlite driver
)

// SQLiteDB opens a *sql.DB on an SQLite file using the pure-Go modernc driver.
// SQLite allows a single writer, so the pool is limited to one connection.
func SQLiteDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, pingErr
	}

	return db, nil
}
