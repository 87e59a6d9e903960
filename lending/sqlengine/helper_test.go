package sqlengine_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/lending/sqlengine"
	. "github.com/AntonStoeckl/library-lending-go/testutil/lendingtest" //nolint:revive
)

const postgresDSNEnv = "LENDING_TEST_POSTGRES_DSN"

func givenSQLiteStore(t *testing.T, options ...sqlengine.Option) *sqlengine.Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "lending.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err, "error in arranging test data")
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := sqlengine.NewStoreFromSQLDB(db, append([]sqlengine.Option{sqlengine.WithDialect(sqlengine.DialectSQLite)}, options...)...)
	require.NoError(t, err, "error in arranging test data")
	require.NoError(t, store.CreateSchema(context.Background()), "error in arranging test data")

	return store
}

// givenPostgresStore connects to the database named by LENDING_TEST_POSTGRES_DSN and creates
// tables with a unique prefix, so parallel runs do not share state.
func givenPostgresStore(t *testing.T) *sqlengine.Store {
	t.Helper()

	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresDSNEnv)
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err, "error in arranging test data")
	t.Cleanup(pool.Close)

	prefix := fmt.Sprintf("t_%s_", strings.ReplaceAll(GivenUniqueID(t).String(), "-", "")[20:])
	store, err := sqlengine.NewStoreFromPGXPool(pool, sqlengine.WithTablePrefix(prefix))
	require.NoError(t, err, "error in arranging test data")
	require.NoError(t, store.CreateSchema(context.Background()), "error in arranging test data")

	t.Cleanup(func() {
		for _, table := range []string{"holdings", "members", "books", "borrow_records", "availability_adjustments"} {
			_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+prefix+table)
		}
	})

	return store
}

func givenStoredBook(t *testing.T, store *sqlengine.Store, totalCopies int) lending.Book {
	t.Helper()

	book, err := store.AddBook(context.Background(), FixtureBook(t, totalCopies))
	require.NoError(t, err, "error in arranging test data")

	return book
}

func givenStoredMember(t *testing.T, store *sqlengine.Store, active bool) lending.Member {
	t.Helper()

	member, err := store.AddMember(context.Background(), FixtureMember(t, active))
	require.NoError(t, err, "error in arranging test data")

	return member
}
