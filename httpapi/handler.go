// Package httpapi exposes the lending engine over HTTP with a chi router and JSON bodies.
//
// Routes:
//
//	POST   /borrow                 borrow a copy, 201 with the new record
//	PATCH  /borrow/{id}/return     return a copy, 200 with the returned record
//	GET    /borrow                 list records (page, limit, sortBy, sortOrder, memberId, bookId, status)
//	GET    /borrow/overdue         list overdue records
//	GET    /borrow/{id}            get one record
//	PUT    /books/{id}/copies      change the total number of copies of a book
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/AntonStoeckl/library-lending-go/lending"
)

const defaultRequestTimeout = 30 * time.Second

// Lending is the part of *lending.Engine the handler uses.
type Lending interface {
	Borrow(ctx context.Context, bookID uuid.UUID, memberID uuid.UUID, loanDays int) (lending.BorrowRecord, error)
	Return(ctx context.Context, recordID uuid.UUID) (lending.BorrowRecord, error)
	GetRecord(ctx context.Context, recordID uuid.UUID) (lending.BorrowRecord, error)
	ListRecords(ctx context.Context, query lending.RecordQuery) (lending.RecordPage, error)
	ListOverdue(ctx context.Context) ([]lending.BorrowRecord, error)
	ReconcileTotalCopies(ctx context.Context, bookID uuid.UUID, newTotal int) (lending.Book, error)
	DescribeRecords(ctx context.Context, records ...lending.BorrowRecord) ([]lending.RecordDetails, error)
}

// Handler serves the lending endpoints.
type Handler struct {
	lending        Lending
	logger         *slog.Logger
	clock          func() time.Time
	requestTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock sets the clock used to derive the overdue flag of returned records. Defaults to time.Now.
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithRequestTimeout bounds the handling time of each request.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		h.requestTimeout = timeout
	}
}

// New creates a Handler. A nil logger discards request logs.
func New(engine Lending, logger *slog.Logger, options ...Option) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	h := &Handler{
		lending:        engine,
		logger:         logger,
		clock:          time.Now,
		requestTimeout: defaultRequestTimeout,
	}

	for _, option := range options {
		option(h)
	}

	return h
}

// Register mounts the lending routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(requestLogger(h.logger))
		r.Use(middleware.Timeout(h.requestTimeout))

		r.Route("/borrow", func(r chi.Router) {
			r.Post("/", h.handleBorrow)
			r.Get("/", h.handleListRecords)
			r.Get("/overdue", h.handleListOverdue)
			r.Get("/{id}", h.handleGetRecord)
			r.Patch("/{id}/return", h.handleReturn)
		})

		r.Put("/books/{id}/copies", h.handleReconcileCopies)
	})
}

// Router returns a new chi router with the lending routes registered.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Register(r)

	return r
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	bookID, err := parseID("bookId", req.BookID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	memberID, err := parseID("memberId", req.MemberID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	loanDays := 0
	if req.DurationDays != nil {
		if *req.DurationDays < 1 {
			h.writeError(w, r, lending.ErrInvalidLoanPeriod)
			return
		}

		loanDays = *req.DurationDays
	}

	record, err := h.lending.Borrow(r.Context(), bookID, memberID, loanDays)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusCreated, h.describeCommitted(r, record))
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	recordID, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.lending.Return(r.Context(), recordID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, h.describeCommitted(r, record))
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.lending.GetRecord(r.Context(), recordID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	details, err := h.lending.DescribeRecords(r.Context(), record)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, toRecordResponse(details[0], h.clock()))
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	query, err := parseRecordQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.lending.ListRecords(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	details, err := h.lending.DescribeRecords(r.Context(), page.Records...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, toPageResponse(page, details, h.clock()))
}

func (h *Handler) handleListOverdue(w http.ResponseWriter, r *http.Request) {
	records, err := h.lending.ListOverdue(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	details, err := h.lending.DescribeRecords(r.Context(), records...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, toRecordResponses(details, h.clock()))
}

func (h *Handler) handleReconcileCopies(w http.ResponseWriter, r *http.Request) {
	bookID, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req reconcileRequest
	if err = decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.TotalCopies == nil {
		h.writeError(w, r, invalidRequest("totalCopies is required"))
		return
	}

	book, err := h.lending.ReconcileTotalCopies(r.Context(), bookID, *req.TotalCopies)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, toBookResponse(book))
}

// describeCommitted answers a successful borrow or return. The change is already stored, so a failed
// summary lookup only drops the summaries from the response.
func (h *Handler) describeCommitted(r *http.Request, record lending.BorrowRecord) recordResponse {
	details, err := h.lending.DescribeRecords(r.Context(), record)
	if err != nil {
		h.logger.WarnContext(r.Context(), "could not describe stored record",
			slog.String("record_id", record.ID.String()),
			slog.String("error", err.Error()),
		)

		return toRecordResponse(lending.RecordDetails{BorrowRecord: record}, h.clock())
	}

	return toRecordResponse(details[0], h.clock())
}
