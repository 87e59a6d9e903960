// Package config reads the process settings of the lending daemon and the simulation from the
// environment and builds the database handles and OpenTelemetry providers they need.
//
// Four database adapters are supported, matching the sqlengine constructors:
//   - pgx: *pgxpool.Pool (PostgreSQL)
//   - sql: *sql.DB with lib/pq (PostgreSQL)
//   - sqlx: *sqlx.DB with lib/pq (PostgreSQL)
//   - sqlite: *sql.DB with modernc.org/sqlite (embedded, no cgo)
//
// plus "memory" for the in-process stores.
package config
