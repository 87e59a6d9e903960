// Package lending provides the borrowing transaction engine of a lending library.
//
// The Engine moves copies of books between "available" and "held" while keeping three
// independently stored counters consistent: a book's available copies, a member's holdings,
// and the status of the member's borrow records in the Ledger.
//
// Key features:
//   - Atomic availability decrement through the CatalogStore, so concurrent borrows never oversell
//   - Borrowed to Returned as the atomicity gate of a return, so a record is returned at most once
//   - Compensating actions with retries when a later step of a borrow or return fails
//   - Per-call store timeouts surfaced as ErrTimeout
//   - Overdue fines computed at return, overdue status derived on read
//   - Dependency-free logging, metrics, and tracing interfaces
//
// Usage examples:
//
//	engine, _ := lending.NewEngine(catalog, members, ledger)
//
//	// With observability and a shorter store timeout
//	engine, _ := lending.NewEngine(
//		catalog, members, ledger,
//		lending.WithStoreTimeout(500*time.Millisecond),
//		lending.WithLogger(slogLogger),
//		lending.WithMetrics(metricsCollector),
//	)
//
//	record, err := engine.Borrow(ctx, bookID, memberID, 0)
//	record, err = engine.Return(ctx, record.ID)
//	if lending.KindOf(err) == lending.KindConflict {
//		// already returned
//	}
package lending
