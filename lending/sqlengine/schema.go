package sqlengine

import (
	"context"
	"fmt"
)

// CreateSchema creates the tables and indexes of the store if they do not exist yet.
// Statements are executed one at a time because not every driver accepts multi-statement strings.
func (s *Store) CreateSchema(ctx context.Context) error {
	for _, stmt := range s.schemaStatements() {
		if _, err := s.exec(ctx, "create_schema", stmt); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) schemaStatements() []string {
	t := s.tables

	holdingsID := "id BIGSERIAL PRIMARY KEY"
	if s.dialect == DialectSQLite {
		holdingsID = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	isbn TEXT NOT NULL UNIQUE,
	category TEXT NOT NULL DEFAULT '',
	published_year INTEGER NOT NULL DEFAULT 0,
	total_copies INTEGER NOT NULL CHECK (total_copies >= 0),
	available_copies INTEGER NOT NULL CHECK (available_copies >= 0 AND available_copies <= total_copies)
)`, t.books),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE
)`, t.members),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	%[2]s,
	record_id TEXT NOT NULL UNIQUE,
	member_id TEXT NOT NULL REFERENCES %[3]s (id),
	book_id TEXT NOT NULL,
	released BOOLEAN NOT NULL DEFAULT FALSE
)`, t.holdings, holdingsID, t.members),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_member_idx ON %[1]s (member_id, released)`, t.holdings),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	book_id TEXT NOT NULL,
	record_id TEXT NOT NULL,
	delta INTEGER NOT NULL,
	reverted BOOLEAN NOT NULL DEFAULT FALSE
)`, t.adjustments),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	book_id TEXT NOT NULL,
	member_id TEXT NOT NULL,
	borrow_date BIGINT NOT NULL,
	due_date BIGINT NOT NULL,
	return_date BIGINT NULL,
	status TEXT NOT NULL CHECK (status IN ('borrowed', 'returned')),
	fine BIGINT NOT NULL DEFAULT 0 CHECK (fine >= 0)
)`, t.records),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_member_idx ON %[1]s (member_id)`, t.records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_book_idx ON %[1]s (book_id)`, t.records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_status_due_idx ON %[1]s (status, due_date)`, t.records),
	}
}
