package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNoRows is returned when a history row does not exist.
var ErrNoRows = errors.New("history row not found")

// HistoryRow is one finished (completed or failed) job.
type HistoryRow struct {
	ID          string
	FileName    string
	Text        string
	Segments    json.RawMessage
	Duration    float64
	Size        int64
	Status      string
	Provider    string
	Model       string
	Language    string
	Error       string
	Fingerprint string
	CreatedAt   time.Time
}

// HistoryStats aggregates the history table.
type HistoryStats struct {
	Total          int64
	TotalDuration  float64
	CompletedToday int64
}

const historyColumns = `id, file_name, text, segments, duration, size, status,
	provider, model, language, error, fingerprint, created_at`

// UpsertHistory inserts a row, replacing an existing row with the same ID
// (a retried job keeps its ID).
func (db *DB) UpsertHistory(ctx context.Context, row *HistoryRow) error {
	segments := row.Segments
	if len(segments) == 0 {
		segments = json.RawMessage("[]")
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO history (`+historyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			text = EXCLUDED.text,
			segments = EXCLUDED.segments,
			duration = EXCLUDED.duration,
			size = EXCLUDED.size,
			status = EXCLUDED.status,
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			language = EXCLUDED.language,
			error = EXCLUDED.error,
			fingerprint = EXCLUDED.fingerprint,
			created_at = EXCLUDED.created_at
	`,
		row.ID, row.FileName, row.Text, segments, row.Duration, row.Size, row.Status,
		row.Provider, row.Model, row.Language, row.Error, row.Fingerprint, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return nil
}

// ListHistory returns rows newest first.
func (db *DB) ListHistory(ctx context.Context, limit, offset int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+historyColumns+` FROM history
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		r, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetHistory returns one row or ErrNoRows.
func (db *DB) GetHistory(ctx context.Context, id string) (*HistoryRow, error) {
	r, err := scanHistory(db.Pool.QueryRow(ctx,
		`SELECT `+historyColumns+` FROM history WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteHistory removes one row. It reports ErrNoRows when nothing matched.
func (db *DB) DeleteHistory(ctx context.Context, id string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM history WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// ResetHistory removes every row and returns how many were deleted.
func (db *DB) ResetHistory(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM history`)
	if err != nil {
		return 0, fmt.Errorf("reset history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetHistoryStats counts rows, sums completed durations and counts jobs
// completed since midnight UTC.
func (db *DB) GetHistoryStats(ctx context.Context) (HistoryStats, error) {
	var st HistoryStats
	err := db.Pool.QueryRow(ctx, `
		SELECT
			count(*),
			COALESCE(sum(duration) FILTER (WHERE status = 'completed'), 0),
			count(*) FILTER (WHERE status = 'completed' AND created_at >= date_trunc('day', now() AT TIME ZONE 'UTC') AT TIME ZONE 'UTC')
		FROM history
	`).Scan(&st.Total, &st.TotalDuration, &st.CompletedToday)
	if err != nil {
		return st, fmt.Errorf("history stats: %w", err)
	}
	return st, nil
}

func scanHistory(row pgx.Row) (HistoryRow, error) {
	var r HistoryRow
	err := row.Scan(
		&r.ID, &r.FileName, &r.Text, &r.Segments, &r.Duration, &r.Size, &r.Status,
		&r.Provider, &r.Model, &r.Language, &r.Error, &r.Fingerprint, &r.CreatedAt,
	)
	return r, err
}
