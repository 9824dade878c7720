package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/snarg/juicer/internal/database"
	"github.com/snarg/juicer/internal/transcribe"
)

// PostgresHistory keeps records in the history table.
type PostgresHistory struct {
	db  *database.DB
	log zerolog.Logger
}

func NewPostgresHistory(db *database.DB, log zerolog.Logger) *PostgresHistory {
	return &PostgresHistory{db: db, log: log}
}

func (h *PostgresHistory) Record(ctx context.Context, r *Record) error {
	segs, err := json.Marshal(r.Segments)
	if err != nil {
		return err
	}
	return h.db.UpsertHistory(ctx, &database.HistoryRow{
		ID:          r.ID,
		FileName:    r.FileName,
		Text:        r.Text,
		Segments:    segs,
		Duration:    r.Duration,
		Size:        r.Size,
		Status:      string(r.Status),
		Provider:    string(r.Provider),
		Model:       r.Model,
		Language:    r.Language,
		Error:       r.Error,
		Fingerprint: r.Fingerprint,
		CreatedAt:   r.Date,
	})
}

func (h *PostgresHistory) List(ctx context.Context, limit, offset int) ([]Record, error) {
	rows, err := h.db.ListHistory(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for i := range rows {
		r, err := fromRow(&rows[i])
		if err != nil {
			// Keep the listing usable; the record is shown without segments.
			h.log.Warn().Err(err).Str("id", rows[i].ID).Msg("history row has corrupt segments")
		}
		out = append(out, r)
	}
	return out, nil
}

func (h *PostgresHistory) Get(ctx context.Context, id string) (*Record, error) {
	row, err := h.db.GetHistory(ctx, id)
	if errors.Is(err, database.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (h *PostgresHistory) Delete(ctx context.Context, id string) error {
	err := h.db.DeleteHistory(ctx, id)
	if errors.Is(err, database.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (h *PostgresHistory) Reset(ctx context.Context) (int64, error) {
	return h.db.ResetHistory(ctx)
}

func (h *PostgresHistory) Stats(ctx context.Context) (Stats, error) {
	st, err := h.db.GetHistoryStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Total: st.Total, TotalDuration: st.TotalDuration, CompletedToday: st.CompletedToday}, nil
}

// fromRow converts a history row. On corrupt segment JSON it returns the
// record without segments along with the error.
func fromRow(row *database.HistoryRow) (Record, error) {
	r := Record{
		Result: transcribe.Result{
			ID:       row.ID,
			FileName: row.FileName,
			Text:     row.Text,
			Duration: row.Duration,
			Size:     row.Size,
			Date:     row.CreatedAt,
			Status:   transcribe.Status(row.Status),
			Provider: transcribe.ProviderID(row.Provider),
			Model:    row.Model,
			Language: row.Language,
		},
		Fingerprint: row.Fingerprint,
		Error:       row.Error,
	}
	if len(row.Segments) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(row.Segments, &r.Segments); err != nil {
		r.Segments = nil
		return r, fmt.Errorf("decode segments of %s: %w", row.ID, err)
	}
	return r, nil
}
