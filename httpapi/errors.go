package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/AntonStoeckl/library-lending-go/lending"
)

// errInvalidRequest marks malformed requests rejected before the engine is called.
var errInvalidRequest = errors.New("invalid request")

type requestError struct {
	message string
}

func (e *requestError) Error() string { return e.message }

func (e *requestError) Unwrap() error { return errInvalidRequest }

func invalidRequest(message string) error {
	return &requestError{message: message}
}

// statusFor maps an error to its HTTP status code.
func statusFor(err error) int {
	if errors.Is(err, errInvalidRequest) {
		return http.StatusBadRequest
	}

	switch lending.KindOf(err) {
	case lending.KindInvalidArgument:
		return http.StatusBadRequest
	case lending.KindNotFound:
		return http.StatusNotFound
	case lending.KindConflict:
		return http.StatusConflict
	case lending.KindForbidden:
		return http.StatusForbidden
	case lending.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client-facing message. Internal failures are not described.
func messageFor(err error) string {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.message
	}

	var lendingErr *lending.Error
	if !errors.As(err, &lendingErr) {
		return http.StatusText(statusFor(err))
	}

	switch lendingErr.Kind() {
	case lending.KindInvalidArgument:
		return strings.ReplaceAll(err.Error(), "\n", ": ")
	case lending.KindInternal, lending.KindUnknown:
		return http.StatusText(statusFor(err))
	default:
		return lendingErr.Error()
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"status", status,
			"error", err.Error(),
		)
	}

	h.writeJSON(w, r, status, errorResponse{Message: messageFor(err), Code: lending.CodeOf(err)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WarnContext(r.Context(), "writing response failed", "error", err.Error())
	}
}
