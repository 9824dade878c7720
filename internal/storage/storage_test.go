package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(afero.NewMemMapFs(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Every backend must satisfy the same contract.
func TestStoreContract(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store {
			return NewFileStore(afero.NewMemMapFs(), "/data")
		},
		"sqlite": func(t *testing.T) Store { return newSQLite(t) },
		"tiered": func(t *testing.T) Store {
			return NewTieredStore(NewFileStore(afero.NewMemMapFs(), "/local"), NewFileStore(afero.NewMemMapFs(), "/remote"), zerolog.Nop())
		},
	}

	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := mk(t)

			_, err := s.Get(ctx, "cache/missing")
			assert.True(t, errors.Is(err, ErrNotFound), "Get missing = %v, want ErrNotFound", err)

			require.NoError(t, s.Put(ctx, "cache/b", []byte("2")))
			require.NoError(t, s.Put(ctx, "cache/a", []byte("1")))
			require.NoError(t, s.Put(ctx, "history/x", []byte("h")))
			require.NoError(t, s.Put(ctx, "cache/a", []byte("1b")))

			got, err := s.Get(ctx, "cache/a")
			require.NoError(t, err)
			assert.Equal(t, "1b", string(got))

			keys, err := s.List(ctx, "cache/")
			require.NoError(t, err)
			assert.Equal(t, []string{"cache/a", "cache/b"}, keys)

			require.NoError(t, s.Delete(ctx, "cache/a"))
			require.NoError(t, s.Delete(ctx, "cache/a"), "deleting a missing key is not an error")
			keys, err = s.List(ctx, "cache/")
			require.NoError(t, err)
			assert.Equal(t, []string{"cache/b"}, keys)
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	type rec struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	require.NoError(t, PutJSON(ctx, s, "settings/x", rec{Name: "a", N: 3}))

	var out rec
	require.NoError(t, GetJSON(ctx, s, "settings/x", &out))
	assert.Equal(t, rec{Name: "a", N: 3}, out)

	require.NoError(t, s.Put(ctx, "settings/bad", []byte("{")))
	assert.Error(t, GetJSON(ctx, s, "settings/bad", &out))
}

func TestFileStoreRejectsBadKeys(t *testing.T) {
	s := NewFileStore(afero.NewMemMapFs(), "/data")
	for _, key := range []string{"", "../escape", "a/../../b", "/abs", "cache/.hidden"} {
		if err := s.Put(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("Put(%q) succeeded, want error", key)
		}
	}
}

func TestTieredReadThrough(t *testing.T) {
	ctx := context.Background()
	local := NewFileStore(afero.NewMemMapFs(), "/local")
	remote := NewFileStore(afero.NewMemMapFs(), "/remote")
	require.NoError(t, remote.Put(ctx, "cache/only-remote", []byte("r")))

	ts := NewTieredStore(local, remote, zerolog.Nop())
	got, err := ts.Get(ctx, "cache/only-remote")
	require.NoError(t, err)
	assert.Equal(t, "r", string(got))

	cached, err := local.Get(ctx, "cache/only-remote")
	require.NoError(t, err, "value should be cached locally after a backup read")
	assert.Equal(t, "r", string(cached))
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	local := NewFileStore(afero.NewMemMapFs(), "/local")
	remote := NewFileStore(afero.NewMemMapFs(), "/remote")
	require.NoError(t, local.Put(ctx, "cache/a", []byte("1")))
	require.NoError(t, local.Put(ctx, "cache/b", []byte("2")))
	require.NoError(t, remote.Put(ctx, "cache/a", []byte("1")))

	r := NewReconciler(local, remote, zerolog.Nop())
	assert.Equal(t, 1, r.Reconcile(ctx))

	got, err := remote.Get(ctx, "cache/b")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))
	assert.Equal(t, 0, r.Reconcile(ctx))
}
