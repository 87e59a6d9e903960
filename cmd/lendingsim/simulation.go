package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/library-lending-go/config"
	"github.com/AntonStoeckl/library-lending-go/lending"
)

// Report counts the outcomes of a simulation run.
type Report struct {
	Borrowed    int64
	Returned    int64
	Unavailable int64
	Failed      int64
}

func (r *Report) String() string {
	return fmt.Sprintf("borrowed=%d returned=%d unavailable=%d failed=%d", r.Borrowed, r.Returned, r.Unavailable, r.Failed)
}

// Simulation drives concurrent borrows and returns through one engine.
type Simulation struct {
	cfg     Config
	engine  *lending.Engine
	backend config.Backend

	books   []uuid.UUID
	members []uuid.UUID

	borrowed    atomic.Int64
	returned    atomic.Int64
	unavailable atomic.Int64
	failed      atomic.Int64
}

// NewSimulation creates a Simulation over the given backend.
func NewSimulation(cfg Config, engine *lending.Engine, backend config.Backend) *Simulation {
	return &Simulation{cfg: cfg, engine: engine, backend: backend}
}

// Setup adds the catalog and the members.
func (s *Simulation) Setup(ctx context.Context) error {
	for i := range s.cfg.Books {
		book, err := s.backend.Registry.AddBook(ctx, lending.Book{
			Title:       "Title " + strconv.Itoa(i),
			Author:      "Author " + strconv.Itoa(i%7),
			ISBN:        "sim-" + uuid.NewString(),
			TotalCopies: s.cfg.Copies,
		})
		if err != nil {
			return fmt.Errorf("adding book: %w", err)
		}
		s.books = append(s.books, book.ID)
	}

	for i := range s.cfg.Members {
		member, err := s.backend.Registry.AddMember(ctx, lending.Member{
			Name:   "Member " + strconv.Itoa(i),
			Email:  "member" + strconv.Itoa(i) + "@example.org",
			Active: true,
		})
		if err != nil {
			return fmt.Errorf("adding member: %w", err)
		}
		s.members = append(s.members, member.ID)
	}

	return nil
}

// Run starts the workers and waits for them. Each worker owns a random number generator
// derived from the seed and keeps the records it borrowed so it can return them later.
func (s *Simulation) Run(ctx context.Context) *Report {
	var wg sync.WaitGroup

	for w := range s.cfg.Workers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			s.work(ctx, rand.New(rand.NewPCG(s.cfg.Seed, uint64(w))))
		}()
	}

	wg.Wait()

	return &Report{
		Borrowed:    s.borrowed.Load(),
		Returned:    s.returned.Load(),
		Unavailable: s.unavailable.Load(),
		Failed:      s.failed.Load(),
	}
}

func (s *Simulation) work(ctx context.Context, rng *rand.Rand) {
	var open []uuid.UUID

	for range s.cfg.Operations {
		if ctx.Err() != nil {
			return
		}

		if len(open) > 0 && rng.IntN(100) < s.cfg.ReturnShare {
			i := rng.IntN(len(open))
			recordID := open[i]
			open = slices.Delete(open, i, i+1)

			if _, err := s.engine.Return(ctx, recordID); err != nil {
				s.failed.Add(1)
				continue
			}
			s.returned.Add(1)

			continue
		}

		bookID := s.books[rng.IntN(len(s.books))]
		memberID := s.members[rng.IntN(len(s.members))]

		record, err := s.engine.Borrow(ctx, bookID, memberID, 1+rng.IntN(defaultLoanDays))
		switch {
		case err == nil:
			s.borrowed.Add(1)
			open = append(open, record.ID)
		case errors.Is(err, lending.ErrBookUnavailable):
			s.unavailable.Add(1)
		default:
			s.failed.Add(1)
		}
	}
}

// Verify checks the catalog and the holdings against the ledger and returns every violation found.
func (s *Simulation) Verify(ctx context.Context) []error {
	var violations []error

	for _, bookID := range s.books {
		book, err := s.backend.Catalog.GetBook(ctx, bookID)
		if err != nil {
			violations = append(violations, fmt.Errorf("book %s: %w", bookID, err))
			continue
		}

		if book.AvailableCopies < 0 || book.AvailableCopies > book.TotalCopies {
			violations = append(violations, fmt.Errorf("book %s: %d of %d copies available", bookID, book.AvailableCopies, book.TotalCopies))
		}

		onLoan, err := s.backend.Ledger.List(ctx, lending.BuildRecordQuery().ForBook(bookID).WithStatus(lending.StatusBorrowed).OnPage(1, 1))
		if err != nil {
			violations = append(violations, fmt.Errorf("book %s: %w", bookID, err))
			continue
		}

		if onLoan.Total != book.CopiesOnLoan() {
			violations = append(violations, fmt.Errorf("book %s: %d copies on loan but %d borrowed records", bookID, book.CopiesOnLoan(), onLoan.Total))
		}
	}

	for _, memberID := range s.members {
		if err := s.verifyHoldings(ctx, memberID); err != nil {
			violations = append(violations, err)
		}
	}

	return violations
}

func (s *Simulation) verifyHoldings(ctx context.Context, memberID uuid.UUID) error {
	member, err := s.backend.Members.GetMember(ctx, memberID)
	if err != nil {
		return fmt.Errorf("member %s: %w", memberID, err)
	}

	expected := make(map[uuid.UUID]int)

	query := lending.BuildRecordQuery().ForMember(memberID).WithStatus(lending.StatusBorrowed).OnPage(1, lending.MaxPageSize)
	for {
		page, listErr := s.backend.Ledger.List(ctx, query)
		if listErr != nil {
			return fmt.Errorf("member %s: %w", memberID, listErr)
		}

		for _, record := range page.Records {
			expected[record.BookID]++
		}

		if query.Page >= page.Pages {
			break
		}
		query = query.OnPage(query.Page+1, lending.MaxPageSize)
	}

	actual := make(map[uuid.UUID]int)
	for _, bookID := range member.Holdings {
		actual[bookID]++
	}

	if len(actual) != len(expected) {
		return fmt.Errorf("member %s: holds %d titles but has borrowed records for %d", memberID, len(actual), len(expected))
	}

	for bookID, n := range expected {
		if actual[bookID] != n {
			return fmt.Errorf("member %s: holds %d copies of %s but has %d borrowed records", memberID, actual[bookID], bookID, n)
		}
	}

	return nil
}
