package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/snarg/juicer/internal/storage"
	"github.com/snarg/juicer/internal/transcribe"
)

const keyPrefix = "history/"

// StoreHistory keeps records as JSON documents in a key-value store.
type StoreHistory struct {
	store storage.Store
	now   func() time.Time
}

func NewStoreHistory(s storage.Store) *StoreHistory {
	return &StoreHistory{store: s, now: time.Now}
}

func (h *StoreHistory) Record(ctx context.Context, r *Record) error {
	if r.ID == "" {
		return fmt.Errorf("history record has no id")
	}
	return storage.PutJSON(ctx, h.store, keyPrefix+r.ID, r)
}

func (h *StoreHistory) Get(ctx context.Context, id string) (*Record, error) {
	var r Record
	err := storage.GetJSON(ctx, h.store, keyPrefix+id, &r)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// all loads every readable record, newest first.
func (h *StoreHistory) all(ctx context.Context) ([]Record, error) {
	keys, err := h.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		var r Record
		if err := storage.GetJSON(ctx, h.store, k, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (h *StoreHistory) List(ctx context.Context, limit, offset int) ([]Record, error) {
	all, err := h.all(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(all) {
		return []Record{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (h *StoreHistory) Delete(ctx context.Context, id string) error {
	if _, err := h.Get(ctx, id); err != nil {
		return err
	}
	return h.store.Delete(ctx, keyPrefix+id)
}

func (h *StoreHistory) Reset(ctx context.Context) (int64, error) {
	keys, err := h.store.List(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("list history: %w", err)
	}
	for i, k := range keys {
		if err := h.store.Delete(ctx, k); err != nil {
			return int64(i), err
		}
	}
	return int64(len(keys)), nil
}

func (h *StoreHistory) Stats(ctx context.Context) (Stats, error) {
	all, err := h.all(ctx)
	if err != nil {
		return Stats{}, err
	}
	today := startOfDay(h.now())
	st := Stats{Total: int64(len(all))}
	for _, r := range all {
		if r.Status != transcribe.StatusCompleted {
			continue
		}
		st.TotalDuration += r.Duration
		if !r.Date.Before(today) {
			st.CompletedToday++
		}
	}
	return st, nil
}
