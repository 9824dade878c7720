package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/snarg/juicer/internal/history"
	"github.com/snarg/juicer/internal/localmodel"
	"github.com/snarg/juicer/internal/queue"
	"github.com/snarg/juicer/internal/transcribe"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 50, 0},
		{"valid_custom", "limit=25&offset=10", 25, 10},
		{"limit_over_1000_clamps", "limit=2000", 50, 0},
		{"limit_zero_clamps", "limit=0", 50, 0},
		{"negative_offset_clamps", "offset=-5", 50, 0},
		{"non_numeric_ignored", "limit=abc&offset=xyz", 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/?"+tt.query, nil)
			p := ParsePagination(req)
			if p.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", p.Limit, tt.wantLimit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", p.Offset, tt.wantOffset)
			}
		})
	}
}

func TestWriteErr(t *testing.T) {
	providerErr := &transcribe.Error{Kind: transcribe.KindRateLimited, Provider: transcribe.Groq, Status: 429}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   transcribe.ErrorKind
	}{
		{"queue_not_found", queue.ErrNotFound, http.StatusNotFound, ""},
		{"history_not_found", fmt.Errorf("get: %w", history.ErrNotFound), http.StatusNotFound, ""},
		{"not_queued", queue.ErrNotQueued, http.StatusConflict, ""},
		{"not_retryable", queue.ErrNotRetryable, http.StatusConflict, ""},
		{"model_not_ready", localmodel.ErrNotReady, http.StatusConflict, ""},
		{"queue_stopped", queue.ErrStopped, http.StatusServiceUnavailable, ""},
		{"rate_limited", fmt.Errorf("chunk 2: %w", providerErr), http.StatusTooManyRequests, transcribe.KindRateLimited},
		{"auth", transcribe.Errorf(transcribe.KindAuth, "no key"), http.StatusUnauthorized, transcribe.KindAuth},
		{"too_large", transcribe.Errorf(transcribe.KindPayloadTooLarge, "big"), http.StatusRequestEntityTooLarge, transcribe.KindPayloadTooLarge},
		{"format", transcribe.Errorf(transcribe.KindUnsupportedFormat, "text"), http.StatusUnsupportedMediaType, transcribe.KindUnsupportedFormat},
		{"timeout", transcribe.Errorf(transcribe.KindNetworkTimeout, "slow"), http.StatusGatewayTimeout, transcribe.KindNetworkTimeout},
		{"plain", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteErr(rec, tt.err)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", body.Kind, tt.wantKind)
			}
			if body.Error == "" {
				t.Error("error message is empty")
			}
		})
	}
}
