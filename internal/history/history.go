// Package history keeps a record of every finished job.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/snarg/juicer/internal/transcribe"
)

// ErrNotFound is returned for unknown record IDs.
var ErrNotFound = errors.New("history: not found")

// Record is a finished job. Failed jobs have an empty Text and a non-empty
// Error.
type Record struct {
	transcribe.Result
	Fingerprint string `json:"fingerprint,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Stats summarizes the history for the dashboard.
type Stats struct {
	Total          int64   `json:"total"`
	TotalDuration  float64 `json:"total_duration"`
	CompletedToday int64   `json:"completed_today"`
}

// Recorder stores history records.
type Recorder interface {
	Record(ctx context.Context, r *Record) error
	List(ctx context.Context, limit, offset int) ([]Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	Reset(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
