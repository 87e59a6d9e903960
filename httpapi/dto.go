package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/library-lending-go/lending"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 16

// statusOverdue is accepted as a list filter for compatibility but is not a stored state.
const statusOverdue = "overdue"

// borrowRequest leaves DurationDays nil when the field is absent, so an explicit 0 can be rejected.
type borrowRequest struct {
	BookID       string `json:"bookId"`
	MemberID     string `json:"memberId"`
	DurationDays *int   `json:"durationDays"`
}

type reconcileRequest struct {
	TotalCopies *int `json:"totalCopies"`
}

type recordResponse struct {
	ID         string                 `json:"id"`
	BookID     string                 `json:"bookId"`
	MemberID   string                 `json:"memberId"`
	Book       *bookSummaryResponse   `json:"book"`
	Member     *memberSummaryResponse `json:"member"`
	BorrowDate time.Time              `json:"borrowDate"`
	DueDate    time.Time              `json:"dueDate"`
	ReturnDate *time.Time             `json:"returnDate"`
	Status     string                 `json:"status"`
	Fine       int64                  `json:"fine"`
	Overdue    bool                   `json:"overdue"`
}

type bookSummaryResponse struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn"`
}

type memberSummaryResponse struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type pageResponse struct {
	Records    []recordResponse `json:"records"`
	Pagination pagination       `json:"pagination"`
}

type bookResponse struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	TotalCopies     int    `json:"totalCopies"`
	AvailableCopies int    `json:"availableCopies"`
}

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func toRecordResponse(details lending.RecordDetails, now time.Time) recordResponse {
	response := recordResponse{
		ID:         details.ID.String(),
		BookID:     details.BookID.String(),
		MemberID:   details.MemberID.String(),
		BorrowDate: details.BorrowDate,
		DueDate:    details.DueDate,
		ReturnDate: details.ReturnDate,
		Status:     string(details.Status),
		Fine:       details.Fine,
		Overdue:    details.IsOverdue(now),
	}

	if details.Book != nil {
		response.Book = &bookSummaryResponse{Title: details.Book.Title, Author: details.Book.Author, ISBN: details.Book.ISBN}
	}

	if details.Member != nil {
		response.Member = &memberSummaryResponse{Name: details.Member.Name, Email: details.Member.Email, Phone: details.Member.Phone}
	}

	return response
}

func toRecordResponses(details []lending.RecordDetails, now time.Time) []recordResponse {
	out := make([]recordResponse, 0, len(details))
	for _, d := range details {
		out = append(out, toRecordResponse(d, now))
	}

	return out
}

func toPageResponse(page lending.RecordPage, details []lending.RecordDetails, now time.Time) pageResponse {
	return pageResponse{
		Records: toRecordResponses(details, now),
		Pagination: pagination{
			Page:  page.Page,
			Limit: page.PageSize,
			Total: page.Total,
			Pages: page.Pages,
		},
	}
}

func toBookResponse(book lending.Book) bookResponse {
	return bookResponse{
		ID:              book.ID.String(),
		Title:           book.Title,
		Author:          book.Author,
		ISBN:            book.ISBN,
		TotalCopies:     book.TotalCopies,
		AvailableCopies: book.AvailableCopies,
	}
}

func decode(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		return invalidRequest("invalid request body")
	}

	return nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, errors.Join(lending.ErrMissingIdentifier, fmt.Errorf("%s is required", field))
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, invalidRequest(fmt.Sprintf("%s is not a valid id", field))
	}

	return id, nil
}

func parseRecordQuery(values url.Values) (lending.RecordQuery, error) {
	query := lending.BuildRecordQuery()

	page, err := optionalInt(values, "page")
	if err != nil {
		return lending.RecordQuery{}, err
	}

	limit, err := optionalInt(values, "limit")
	if err != nil {
		return lending.RecordQuery{}, err
	}

	if page != 0 || limit != 0 {
		query = query.OnPage(page, limit)
	}

	if sortBy := values.Get("sortBy"); sortBy != "" {
		if sortBy == "createdAt" {
			sortBy = string(lending.SortByBorrowDate)
		}
		query.SortBy = lending.SortField(sortBy)
	}

	if sortOrder := values.Get("sortOrder"); sortOrder != "" {
		query.Order = lending.SortOrder(sortOrder)
	}

	if raw := values.Get("memberId"); raw != "" {
		memberID, parseErr := parseID("memberId", raw)
		if parseErr != nil {
			return lending.RecordQuery{}, parseErr
		}
		query = query.ForMember(memberID)
	}

	if raw := values.Get("bookId"); raw != "" {
		bookID, parseErr := parseID("bookId", raw)
		if parseErr != nil {
			return lending.RecordQuery{}, parseErr
		}
		query = query.ForBook(bookID)
	}

	switch status := values.Get("status"); status {
	case "":
	case statusOverdue:
		return lending.RecordQuery{}, invalidRequest("overdue is derived, use GET /borrow/overdue")
	default:
		query = query.WithStatus(lending.Status(status))
	}

	return query.Normalize()
}

func optionalInt(values url.Values, key string) (int, error) {
	raw := values.Get(key)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, invalidRequest(fmt.Sprintf("%s must be a positive integer", key))
	}

	return v, nil
}
