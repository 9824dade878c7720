package storage

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Exister is implemented by backends that can check for a key without
// reading it.
type Exister interface {
	Exists(ctx context.Context, key string) bool
}

// TieredStore combines local disk (source of truth) with a remote backup.
// Write path: save locally first (never block on the backup), then push.
// Read path: local first, backup fallback with cache-on-read.
type TieredStore struct {
	local  Store
	backup Store
	log    zerolog.Logger
}

// NewTieredStore creates a tiered local-primary + backup store.
func NewTieredStore(local, backup Store, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		local:  local,
		backup: backup,
		log:    log.With().Str("component", "tiered-store").Logger(),
	}
}

// Put writes locally first (fatal on failure), then to the backup (warning
// on failure). Backup failures are picked up by the Reconciler.
func (s *TieredStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.local.Put(ctx, key, value); err != nil {
		return err
	}
	if err := s.backup.Put(ctx, key, value); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("backup write failed, reconciler will retry")
	}
	return nil
}

func (s *TieredStore) Get(ctx context.Context, key string) ([]byte, error) {
	if data, err := s.local.Get(ctx, key); err == nil {
		return data, nil
	} else if !errors.Is(err, ErrNotFound) {
		s.log.Warn().Err(err).Str("key", key).Msg("local read failed, trying backup")
	}
	data, err := s.backup.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if cacheErr := s.local.Put(ctx, key, data); cacheErr != nil {
		s.log.Warn().Err(cacheErr).Str("key", key).Msg("failed to cache backup value locally")
	}
	return data, nil
}

// Delete removes the key from both tiers.
func (s *TieredStore) Delete(ctx context.Context, key string) error {
	if err := s.local.Delete(ctx, key); err != nil {
		return err
	}
	return s.backup.Delete(ctx, key)
}

// List reads the local tier only.
func (s *TieredStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.local.List(ctx, prefix)
}

func (s *TieredStore) Type() string { return "tiered" }
