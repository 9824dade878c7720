package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/snarg/juicer/internal/history"
	"github.com/snarg/juicer/internal/localmodel"
	"github.com/snarg/juicer/internal/queue"
	"github.com/snarg/juicer/internal/transcribe"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error string               `json:"error"`
	Kind  transcribe.ErrorKind `json:"kind,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErr maps err to a status code and writes it. Transcription errors
// carry their kind.
func WriteErr(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, history.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, queue.ErrNotQueued), errors.Is(err, queue.ErrNotRetryable),
		errors.Is(err, localmodel.ErrNotReady), errors.Is(err, localmodel.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, queue.ErrStopped):
		status = http.StatusServiceUnavailable
	default:
		var te *transcribe.Error
		if errors.As(err, &te) {
			resp.Kind = te.Kind
			status = kindStatus(te.Kind)
		}
	}
	WriteJSON(w, status, resp)
}

func kindStatus(k transcribe.ErrorKind) int {
	switch k {
	case transcribe.KindAuth:
		return http.StatusUnauthorized
	case transcribe.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case transcribe.KindRateLimited:
		return http.StatusTooManyRequests
	case transcribe.KindModelLoading:
		return http.StatusServiceUnavailable
	case transcribe.KindServerError:
		return http.StatusBadGateway
	case transcribe.KindNetworkTimeout:
		return http.StatusGatewayTimeout
	case transcribe.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// Pagination holds parsed pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination extracts limit and offset. Invalid or out of range
// values fall back to the defaults.
func ParsePagination(r *http.Request) Pagination {
	p := Pagination{Limit: 50}
	if n, ok := QueryInt(r, "limit"); ok && n >= 1 && n <= 1000 {
		p.Limit = n
	}
	if n, ok := QueryInt(r, "offset"); ok && n >= 0 {
		p.Offset = n
	}
	return p
}

// QueryInt extracts an integer query parameter. Returns 0, false if missing or invalid.
func QueryInt(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
