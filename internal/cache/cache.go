// Package cache stores finished transcriptions keyed by a content
// fingerprint so identical uploads are never sent to a provider twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/juicer/internal/storage"
	"github.com/snarg/juicer/internal/transcribe"
)

const keyPrefix = "cache/"

// ErrMiss is returned by Get when there is no fresh entry.
var ErrMiss = errors.New("cache: miss")

// Entry is a cached transcription.
type Entry struct {
	Result    transcribe.Result     `json:"result"`
	Provider  transcribe.ProviderID `json:"provider"`
	FileSize  int64                 `json:"file_size"`
	Duration  float64               `json:"duration"`
	CreatedAt time.Time             `json:"created_at"`
}

// Fingerprint returns the lowercase hex SHA-256 of content.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Options configures a Cache.
type Options struct {
	Store    storage.Store
	MaxItems int           // default 100
	MaxAge   time.Duration // default 7 days
	Now      func() time.Time
	Log      zerolog.Logger
}

// Cache is a bounded, age-limited result cache on top of a Store.
type Cache struct {
	store    storage.Store
	maxItems int
	maxAge   time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu sync.Mutex // serializes the read-evict-write in Put
}

// New creates a Cache.
func New(opts Options) *Cache {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 100
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		store:    opts.Store,
		maxItems: opts.MaxItems,
		maxAge:   opts.MaxAge,
		now:      opts.Now,
		log:      opts.Log,
	}
}

func key(hash string) string { return keyPrefix + hash }

func (c *Cache) expired(e *Entry) bool {
	return c.now().Sub(e.CreatedAt) > c.maxAge
}

// Get returns the entry for hash. Missing, expired and unreadable entries
// are all ErrMiss; expired and unreadable ones are deleted on the way out.
func (c *Cache) Get(ctx context.Context, hash string) (*Entry, error) {
	var e Entry
	err := storage.GetJSON(ctx, c.store, key(hash), &e)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		if errors.Is(err, storage.ErrCorrupt) {
			c.log.Warn().Err(err).Str("hash", hash).Msg("dropping unreadable cache entry")
			c.store.Delete(ctx, key(hash))
			return nil, ErrMiss
		}
		return nil, err
	}
	if c.expired(&e) {
		if err := c.store.Delete(ctx, key(hash)); err != nil {
			c.log.Warn().Err(err).Str("hash", hash).Msg("failed to delete expired cache entry")
		}
		return nil, ErrMiss
	}
	return &e, nil
}

// Put stores e under hash, stamping CreatedAt. When the cache is full and
// hash is new, the single oldest entry is evicted first.
func (c *Cache) Put(ctx context.Context, hash string, e *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.List(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("list cache: %w", err)
	}

	exists := false
	for _, k := range keys {
		if k == key(hash) {
			exists = true
			break
		}
	}
	if !exists && len(keys) >= c.maxItems {
		if err := c.evictOldest(ctx, keys); err != nil {
			return err
		}
	}

	stored := *e
	stored.CreatedAt = c.now().UTC()
	if err := storage.PutJSON(ctx, c.store, key(hash), &stored); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	e.CreatedAt = stored.CreatedAt
	return nil
}

func (c *Cache) evictOldest(ctx context.Context, keys []string) error {
	var oldestKey string
	var oldest time.Time
	for _, k := range keys {
		var e Entry
		if err := storage.GetJSON(ctx, c.store, k, &e); err != nil {
			// Unreadable entries go first.
			oldestKey = k
			break
		}
		if oldestKey == "" || e.CreatedAt.Before(oldest) {
			oldestKey, oldest = k, e.CreatedAt
		}
	}
	if oldestKey == "" {
		return nil
	}
	if err := c.store.Delete(ctx, oldestKey); err != nil {
		return fmt.Errorf("evict %s: %w", oldestKey, err)
	}
	c.log.Debug().Str("key", oldestKey).Msg("evicted oldest cache entry")
	return nil
}

// Prune deletes every expired or unreadable entry and returns how many were
// removed.
func (c *Cache) Prune(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.List(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("list cache: %w", err)
	}
	removed := 0
	for _, k := range keys {
		var e Entry
		if err := storage.GetJSON(ctx, c.store, k, &e); err == nil && !c.expired(&e) {
			continue
		}
		if err := c.store.Delete(ctx, k); err != nil {
			return removed, fmt.Errorf("prune %s: %w", k, err)
		}
		removed++
	}
	return removed, nil
}

// Clear deletes every entry.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.List(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("list cache: %w", err)
	}
	for i, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			return i, fmt.Errorf("clear %s: %w", k, err)
		}
	}
	return len(keys), nil
}

// Stats summarizes the cache for the management endpoints.
type Stats struct {
	Items    int           `json:"items"`
	MaxItems int           `json:"max_items"`
	MaxAge   time.Duration `json:"max_age_ns"`
	Bytes    int64         `json:"source_bytes"` // total size of the uploads cached
	Oldest   *time.Time    `json:"oldest,omitempty"`
	Newest   *time.Time    `json:"newest,omitempty"`
}

// Stats reads every entry and reports counts and age bounds.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	st := Stats{MaxItems: c.maxItems, MaxAge: c.maxAge}
	keys, err := c.store.List(ctx, keyPrefix)
	if err != nil {
		return st, fmt.Errorf("list cache: %w", err)
	}
	for _, k := range keys {
		var e Entry
		if err := storage.GetJSON(ctx, c.store, k, &e); err != nil {
			continue
		}
		st.Items++
		st.Bytes += e.FileSize
		created := e.CreatedAt
		if st.Oldest == nil || created.Before(*st.Oldest) {
			st.Oldest = &created
		}
		if st.Newest == nil || created.After(*st.Newest) {
			st.Newest = &created
		}
	}
	return st, nil
}
