package sqlengine

import (
	"errors"
	"regexp"

	"github.com/AntonStoeckl/library-lending-go/lending"
)

const (
	// DialectPostgres selects PostgreSQL SQL generation.
	DialectPostgres = "postgres"

	// DialectSQLite selects SQLite SQL generation.
	DialectSQLite = "sqlite3"
)

var (
	// ErrNilDatabaseConnection is returned when a constructor receives a nil connection.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrUnsupportedDialect is returned by WithDialect for dialects other than postgres and sqlite3.
	ErrUnsupportedDialect = errors.New("unsupported sql dialect")

	// ErrInvalidTablePrefix is returned by WithTablePrefix for prefixes that are not plain identifiers.
	ErrInvalidTablePrefix = errors.New("table prefix must consist of letters, digits, and underscores")
)

var tablePrefixPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Option defines a functional option for configuring the Store.
type Option func(*Store) error

// WithDialect sets the SQL dialect. The default is postgres.
func WithDialect(dialect string) Option {
	return func(s *Store) error {
		if dialect != DialectPostgres && dialect != DialectSQLite {
			return ErrUnsupportedDialect
		}

		s.dialect = dialect

		return nil
	}
}

// WithTablePrefix prefixes all table names, e.g. to run several isolated stores in one database.
func WithTablePrefix(prefix string) Option {
	return func(s *Store) error {
		if !tablePrefixPattern.MatchString(prefix) {
			return ErrInvalidTablePrefix
		}

		s.tables = tableNames(prefix)

		return nil
	}
}

// WithLogger sets the logger for the Store.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL statements with execution timing (development use)
// Error level: failed statements.
func WithLogger(logger lending.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger for the Store.
func WithContextualLogger(logger lending.ContextualLogger) Option {
	return func(s *Store) error {
		s.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Store.
// The collector receives statement durations and database error counts per store operation.
func WithMetrics(collector lending.MetricsCollector) Option {
	return func(s *Store) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Store. Every statement gets its own span.
func WithTracing(collector lending.TracingCollector) Option {
	return func(s *Store) error {
		s.tracingCollector = collector
		return nil
	}
}
