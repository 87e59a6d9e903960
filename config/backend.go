package config

import (
	"context"
	"fmt"

	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/lending/memstore"
	"github.com/AntonStoeckl/library-lending-go/lending/sqlengine"
)

// Registry adds books and members. Both store implementations provide it.
type Registry interface {
	AddBook(ctx context.Context, book lending.Book) (lending.Book, error)
	AddMember(ctx context.Context, member lending.Member) (lending.Member, error)
}

// Backend bundles the stores the engine needs, all served by one store instance.
type Backend struct {
	Catalog  lending.CatalogStore
	Members  lending.MemberStore
	Ledger   lending.Ledger
	Registry Registry
	Close    func()
}

type store interface {
	lending.CatalogStore
	lending.MemberStore
	lending.Ledger
	Registry
}

func newBackend(s store, closeFn func()) Backend {
	return Backend{Catalog: s, Members: s, Ledger: s, Registry: s, Close: closeFn}
}

// OpenBackend connects the configured adapter and makes sure the schema exists.
// storeOptions are applied to SQL stores only.
func OpenBackend(ctx context.Context, settings Settings, storeOptions ...sqlengine.Option) (Backend, error) {
	if settings.Adapter == AdapterMemory {
		return newBackend(memstore.NewStore(), func() {}), nil
	}

	options := append([]sqlengine.Option{}, storeOptions...)
	if settings.TablePrefix != "" {
		options = append(options, sqlengine.WithTablePrefix(settings.TablePrefix))
	}

	var (
		sqlStore *sqlengine.Store
		closeFn  func()
		err      error
	)

	switch settings.Adapter {
	case AdapterPGX:
		pool, connErr := PostgresPGXPool(ctx, settings.DSN)
		if connErr != nil {
			return Backend{}, connErr
		}
		closeFn = pool.Close
		sqlStore, err = sqlengine.NewStoreFromPGXPool(pool, options...)

	case AdapterSQL:
		db, connErr := PostgresSQLDB(ctx, settings.DSN)
		if connErr != nil {
			return Backend{}, connErr
		}
		closeFn = func() { _ = db.Close() }
		sqlStore, err = sqlengine.NewStoreFromSQLDB(db, options...)

	case AdapterSQLX:
		db, connErr := PostgresSQLX(ctx, settings.DSN)
		if connErr != nil {
			return Backend{}, connErr
		}
		closeFn = func() { _ = db.Close() }
		sqlStore, err = sqlengine.NewStoreFromSQLX(db, options...)

	case AdapterSQLite:
		db, connErr := SQLiteDB(ctx, settings.SQLitePath)
		if connErr != nil {
			return Backend{}, connErr
		}
		closeFn = func() { _ = db.Close() }
		sqlStore, err = sqlengine.NewStoreFromSQLDB(db, append(options, sqlengine.WithDialect(sqlengine.DialectSQLite))...)

	default:
		return Backend{}, fmt.Errorf("%w: %q", ErrUnknownAdapter, settings.Adapter)
	}

	if err != nil {
		closeFn()
		return Backend{}, err
	}

	if err = sqlStore.CreateSchema(ctx); err != nil {
		closeFn()
		return Backend{}, err
	}

	return newBackend(sqlStore, closeFn), nil
}
