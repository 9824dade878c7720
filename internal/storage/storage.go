package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/juicer/internal/config"
	"github.com/spf13/afero"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrCorrupt is returned by GetJSON when a stored value can't be decoded.
	ErrCorrupt = errors.New("storage: corrupt value")
)

// Store is a small key-value store for cache entries, history records and
// settings. Keys are slash-separated, e.g. "cache/<sha256>".
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Type returns "file", "sqlite", "s3", or "tiered".
	Type() string
}

// GetJSON reads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// New creates a Store based on config. Returns the store and optional
// background services that the caller must Start/Stop, plus a close
// function for backends holding a handle.
// Returns an error if S3 is configured but unreachable.
func New(cfg config.StoreConfig, log zerolog.Logger) (Store, []BackgroundService, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.Backend {
	case "file":
		return NewFileStore(afero.NewOsFs(), cfg.Dir), nil, noClose, nil
	case "sqlite", "":
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.Dir, "juicer.db")
		}
		s, err := OpenSQLite(afero.NewOsFs(), path)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info().Str("path", path).Msg("sqlite store opened")
		return s, nil, s.Close, nil
	case "s3":
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	if !cfg.S3.Enabled() {
		return nil, nil, nil, fmt.Errorf("STORE_BACKEND=s3 requires S3_BUCKET")
	}
	s3store, err := NewS3Store(cfg.S3, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.S3.Bucket, cfg.S3.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.S3.Bucket).Str("endpoint", cfg.S3.Endpoint).Msg("S3 connection verified")

	if !cfg.S3.LocalCache {
		return s3store, nil, noClose, nil
	}

	// Tiered mode: local primary + S3 backup
	local := NewFileStore(afero.NewOsFs(), cfg.Dir)
	tiered := NewTieredStore(local, s3store, log)
	reconciler := NewReconciler(local, s3store, log)
	return tiered, []BackgroundService{reconciler}, noClose, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
