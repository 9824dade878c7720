package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/snarg/juicer/internal/database"
	"github.com/snarg/juicer/internal/storage"
	"github.com/snarg/juicer/internal/transcribe"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string, status transcribe.Status, date time.Time, duration float64) *Record {
	return &Record{
		Result: transcribe.Result{
			ID:       id,
			FileName: id + ".mp3",
			Text:     "text " + id,
			Status:   status,
			Date:     date,
			Duration: duration,
			Provider: transcribe.Groq,
		},
	}
}

func TestStoreHistory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	h := NewStoreHistory(storage.NewFileStore(afero.NewMemMapFs(), "/data"))
	h.now = func() time.Time { return now }

	require.NoError(t, h.Record(ctx, record("a", transcribe.StatusCompleted, now.Add(-26*time.Hour), 30)))
	require.NoError(t, h.Record(ctx, record("b", transcribe.StatusCompleted, now.Add(-time.Hour), 60)))
	require.NoError(t, h.Record(ctx, record("c", transcribe.StatusError, now.Add(-time.Minute), 0)))

	t.Run("list_newest_first", func(t *testing.T) {
		list, err := h.List(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "c", list[0].ID)
		assert.Equal(t, "a", list[2].ID)

		page, err := h.List(ctx, 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "b", page[0].ID)

		empty, err := h.List(ctx, 10, 5)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("stats", func(t *testing.T) {
		st, err := h.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), st.Total)
		assert.Equal(t, 90.0, st.TotalDuration)
		assert.Equal(t, int64(1), st.CompletedToday)
	})

	t.Run("get_and_delete", func(t *testing.T) {
		r, err := h.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "text b", r.Text)

		require.NoError(t, h.Delete(ctx, "b"))
		_, err = h.Get(ctx, "b")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(h.Delete(ctx, "b"), ErrNotFound))
	})

	t.Run("reset", func(t *testing.T) {
		n, err := h.Reset(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		list, err := h.List(ctx, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("record_requires_id", func(t *testing.T) {
		assert.Error(t, h.Record(ctx, &Record{}))
	})
}

func TestFromRow(t *testing.T) {
	row := &database.HistoryRow{
		ID:       "job-1",
		FileName: "talk.wav",
		Text:     "hello world",
		Segments: []byte(`[{"time":0,"text":"hello"},{"time":1.5,"text":"world"}]`),
		Status:   "completed",
		Provider: "openai",
	}
	r, err := fromRow(row)
	require.NoError(t, err)
	assert.Equal(t, transcribe.OpenAI, r.Provider)
	assert.Equal(t, transcribe.StatusCompleted, r.Status)
	require.Len(t, r.Segments, 2)
	assert.Equal(t, 1.5, r.Segments[1].Time)

	row.Segments = nil
	r, err = fromRow(row)
	require.NoError(t, err)
	assert.Empty(t, r.Segments)

	row.Segments = []byte("not json")
	r, err = fromRow(row)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job-1")
	assert.Empty(t, r.Segments)
	assert.Equal(t, "hello world", r.Text, "the rest of the record survives")
}
