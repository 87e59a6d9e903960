package httpapi_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/library-lending-go/httpapi"
	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/lending/memstore"
	. "github.com/AntonStoeckl/library-lending-go/testutil/lendingtest" //nolint:revive
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var borrowedAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memstore.Store
	clock  *FakeClock
	server *httptest.Server
}

type recordBody struct {
	ID       string `json:"id"`
	BookID   string `json:"bookId"`
	MemberID string `json:"memberId"`
	Book     *struct {
		Title  string `json:"title"`
		Author string `json:"author"`
		ISBN   string `json:"isbn"`
	} `json:"book"`
	Member *struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"member"`
	DueDate    time.Time  `json:"dueDate"`
	ReturnDate *time.Time `json:"returnDate"`
	Status     string     `json:"status"`
	Fine       int64      `json:"fine"`
	Overdue    bool       `json:"overdue"`
}

type pageBody struct {
	Records    []recordBody `json:"records"`
	Pagination struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
		Total int `json:"total"`
		Pages int `json:"pages"`
	} `json:"pagination"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func givenServer(t *testing.T) fixture {
	t.Helper()

	store := memstore.NewStore()
	clock := NewFakeClock(borrowedAt)

	engine, err := lending.NewEngine(store, store, store, lending.WithClock(clock.Now))
	require.NoError(t, err, "error in arranging test data")

	handler := httpapi.New(engine, nil, httpapi.WithClock(clock.Now))
	server := httptest.NewServer(handler.Router())
	t.Cleanup(server.Close)

	return fixture{store: store, clock: clock, server: server}
}

func (f fixture) givenBook(t *testing.T, copies int) lending.Book {
	t.Helper()

	book, err := f.store.AddBook(t.Context(), FixtureBook(t, copies))
	require.NoError(t, err, "error in arranging test data")

	return book
}

func (f fixture) givenMember(t *testing.T, active bool) lending.Member {
	t.Helper()

	member, err := f.store.AddMember(t.Context(), FixtureMember(t, active))
	require.NoError(t, err, "error in arranging test data")

	return member
}

func (f fixture) do(t *testing.T, method, path, body string, target any) int {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	if target != nil {
		var buf bytes.Buffer
		_, err = buf.ReadFrom(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(buf.Bytes(), target), buf.String())
	}

	return resp.StatusCode
}

func (f fixture) borrow(t *testing.T, book lending.Book, member lending.Member, days int) recordBody {
	t.Helper()

	var record recordBody
	body := `{"bookId":"` + book.ID.String() + `","memberId":"` + member.ID.String() + `","durationDays":` + itoa(days) + `}`
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/borrow", body, &record))

	return record
}

func itoa(n int) string {
	raw, _ := json.Marshal(n)
	return string(raw)
}

func Test_Borrow_CreatesRecord(t *testing.T) {
	f := givenServer(t)
	book := f.givenBook(t, 2)
	member := f.givenMember(t, true)

	record := f.borrow(t, book, member, 7)

	assert.Equal(t, book.ID.String(), record.BookID)
	assert.Equal(t, member.ID.String(), record.MemberID)
	assert.Equal(t, "borrowed", record.Status)
	assert.Equal(t, borrowedAt.Add(Days(7)), record.DueDate.UTC())
	assert.Nil(t, record.ReturnDate)
	assert.False(t, record.Overdue)
	assert.Equal(t, 1, AssertBookInvariant(t, t.Context(), f.store, book.ID).AvailableCopies)

	require.NotNil(t, record.Book)
	assert.Equal(t, book.Title, record.Book.Title)
	assert.Equal(t, book.Author, record.Book.Author)
	assert.Equal(t, book.ISBN, record.Book.ISBN)
	require.NotNil(t, record.Member)
	assert.Equal(t, member.Name, record.Member.Name)
	assert.Equal(t, member.Email, record.Member.Email)
	assert.Equal(t, member.Phone, record.Member.Phone)
}

func Test_Borrow_UsesDefaultLoanPeriod(t *testing.T) {
	f := givenServer(t)
	book := f.givenBook(t, 1)
	member := f.givenMember(t, true)

	var record recordBody
	body := `{"bookId":"` + book.ID.String() + `","memberId":"` + member.ID.String() + `"}`
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/borrow", body, &record))

	assert.Equal(t, borrowedAt.Add(Days(lending.DefaultLoanDays)), record.DueDate.UTC())
}

func Test_Borrow_MapsFailuresToStatusCodes(t *testing.T) {
	f := givenServer(t)
	book := f.givenBook(t, 1)
	emptyBook := f.givenBook(t, 0)
	member := f.givenMember(t, true)
	inactive := f.givenMember(t, false)

	testCases := []struct {
		description string
		body        string
		status      int
		code        string
	}{
		{
			description: "malformed body",
			body:        `{"bookId":`,
			status:      http.StatusBadRequest,
		},
		{
			description: "missing book id",
			body:        `{"memberId":"` + member.ID.String() + `"}`,
			status:      http.StatusBadRequest,
			code:        lending.CodeOf(lending.ErrMissingIdentifier),
		},
		{
			description: "invalid id",
			body:        `{"bookId":"nope","memberId":"` + member.ID.String() + `"}`,
			status:      http.StatusBadRequest,
		},
		{
			description: "negative loan period",
			body:        `{"bookId":"` + book.ID.String() + `","memberId":"` + member.ID.String() + `","durationDays":-3}`,
			status:      http.StatusBadRequest,
			code:        lending.CodeOf(lending.ErrInvalidLoanPeriod),
		},
		{
			description: "explicit zero loan period",
			body:        `{"bookId":"` + book.ID.String() + `","memberId":"` + member.ID.String() + `","durationDays":0}`,
			status:      http.StatusBadRequest,
			code:        lending.CodeOf(lending.ErrInvalidLoanPeriod),
		},
		{
			description: "unknown book",
			body:        `{"bookId":"` + GivenUniqueID(t).String() + `","memberId":"` + member.ID.String() + `"}`,
			status:      http.StatusNotFound,
			code:        lending.CodeOf(lending.ErrBookNotFound),
		},
		{
			description: "unknown member",
			body:        `{"bookId":"` + book.ID.String() + `","memberId":"` + GivenUniqueID(t).String() + `"}`,
			status:      http.StatusNotFound,
			code:        lending.CodeOf(lending.ErrMemberNotFound),
		},
		{
			description: "no copy available",
			body:        `{"bookId":"` + emptyBook.ID.String() + `","memberId":"` + member.ID.String() + `"}`,
			status:      http.StatusConflict,
			code:        lending.CodeOf(lending.ErrBookUnavailable),
		},
		{
			description: "inactive member",
			body:        `{"bookId":"` + book.ID.String() + `","memberId":"` + inactive.ID.String() + `"}`,
			status:      http.StatusForbidden,
			code:        lending.CodeOf(lending.ErrInactiveMember),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			var body errorBody
			status := f.do(t, http.MethodPost, "/borrow", tc.body, &body)

			assert.Equal(t, tc.status, status)
			assert.NotEmpty(t, body.Message)
			if tc.code != "" {
				assert.Equal(t, tc.code, body.Code)
			}
		})
	}

	assert.Equal(t, 1, AssertBookInvariant(t, t.Context(), f.store, book.ID).AvailableCopies, "rejected borrows change nothing")
}

func Test_Return_ComputesFine(t *testing.T) {
	f := givenServer(t)
	book := f.givenBook(t, 1)
	member := f.givenMember(t, true)
	record := f.borrow(t, book, member, 7)

	f.clock.Advance(Days(9))

	var returned recordBody
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, "/borrow/"+record.ID+"/return", "", &returned))

	assert.Equal(t, "returned", returned.Status)
	assert.Equal(t, 2*lending.DefaultFinePerDay, returned.Fine)
	require.NotNil(t, returned.ReturnDate)
	assert.False(t, returned.Overdue)

	var again errorBody
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPatch, "/borrow/"+record.ID+"/return", "", &again))
	assert.Equal(t, lending.CodeOf(lending.ErrAlreadyReturned), again.Code)

	var missing errorBody
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPatch, "/borrow/"+GivenUniqueID(t).String()+"/return", "", &missing))
}

func Test_GetRecord(t *testing.T) {
	f := givenServer(t)
	record := f.borrow(t, f.givenBook(t, 1), f.givenMember(t, true), 3)

	var got recordBody
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/borrow/"+record.ID, "", &got))
	assert.Equal(t, record, got)

	var invalid errorBody
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/borrow/not-a-uuid", "", &invalid))

	var missing errorBody
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/borrow/"+GivenUniqueID(t).String(), "", &missing))
	assert.Equal(t, lending.CodeOf(lending.ErrRecordNotFound), missing.Code)
}

func Test_ListRecords_PagesAndFilters(t *testing.T) {
	f := givenServer(t)
	book := f.givenBook(t, 5)
	member := f.givenMember(t, true)
	other := f.givenMember(t, true)

	for range 3 {
		f.borrow(t, book, member, 7)
		f.clock.Advance(time.Hour)
	}
	f.borrow(t, book, other, 7)

	var page pageBody
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/borrow?memberId="+member.ID.String()+"&limit=2&sortBy=borrowDate&sortOrder=asc", "", &page))
	assert.Len(t, page.Records, 2)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Equal(t, 2, page.Pagination.Limit)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.Pages)
	for _, record := range page.Records {
		assert.Equal(t, member.ID.String(), record.MemberID)
	}

	var second pageBody
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/borrow?memberId="+member.ID.String()+"&limit=2&page=2", "", &second))
	assert.Len(t, second.Records, 1)

	var all pageBody
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/borrow?status=borrowed", "", &all))
	assert.Equal(t, 4, all.Pagination.Total)
	assert.Equal(t, lending.DefaultPageSize, all.Pagination.Limit)
}

func Test_ListRecords_RejectsInvalidQueries(t *testing.T) {
	f := givenServer(t)

	for _, query := range []string{
		"page=0",
		"page=" + itoa(lending.MaxPage+1),
		"page=9223372036854775807",
		"limit=101",
		"limit=abc",
		"sortBy=title",
		"sortOrder=sideways",
		"status=lost",
		"status=overdue",
		"memberId=123",
	} {
		t.Run(query, func(t *testing.T) {
			var body errorBody
			assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/borrow?"+query, "", &body))
			assert.NotEmpty(t, body.Message)
		})
	}
}

func Test_ListOverdue(t *testing.T) {
	f := givenServer(t)
	book := f.givenBook(t, 3)
	member := f.givenMember(t, true)

	late := f.borrow(t, book, member, 1)
	f.borrow(t, book, member, 30)

	var none []recordBody
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/borrow/overdue", "", &none))
	assert.Empty(t, none)

	f.clock.Advance(Days(2))

	var overdue []recordBody
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/borrow/overdue", "", &overdue))
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].ID)
	assert.True(t, overdue[0].Overdue)
	require.NotNil(t, overdue[0].Book)
	assert.Equal(t, book.ISBN, overdue[0].Book.ISBN)
	require.NotNil(t, overdue[0].Member)
	assert.Equal(t, member.Email, overdue[0].Member.Email)
}

func Test_ReconcileCopies(t *testing.T) {
	f := givenServer(t)
	book := f.givenBook(t, 2)
	member := f.givenMember(t, true)
	f.borrow(t, book, member, 7)

	var updated struct {
		TotalCopies     int `json:"totalCopies"`
		AvailableCopies int `json:"availableCopies"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/books/"+book.ID.String()+"/copies", `{"totalCopies":5}`, &updated))
	assert.Equal(t, 5, updated.TotalCopies)
	assert.Equal(t, 4, updated.AvailableCopies)

	var onLoan errorBody
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPut, "/books/"+book.ID.String()+"/copies", `{"totalCopies":0}`, &onLoan))
	assert.Equal(t, lending.CodeOf(lending.ErrCopiesOnLoan), onLoan.Code)

	var missingField errorBody
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/books/"+book.ID.String()+"/copies", `{}`, &missingField))

	var negative errorBody
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/books/"+book.ID.String()+"/copies", `{"totalCopies":-1}`, &negative))

	AssertBookInvariant(t, t.Context(), f.store, book.ID)
}
