package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Reconciler scans the local tier for keys missing from the backup and
// re-uploads them. Handles failed backup writes and crash recovery.
type Reconciler struct {
	local    Store
	backup   Store
	interval time.Duration
	delay    time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewReconciler creates a reconciler that checks for missing backup keys.
func NewReconciler(local, backup Store, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		local:    local,
		backup:   backup,
		interval: 5 * time.Minute,
		delay:    2 * time.Minute,
		log:      log.With().Str("component", "reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *Reconciler) Start() { go r.loop() }
func (r *Reconciler) Stop()  { r.stopOnce.Do(func() { close(r.stop) }) }

func (r *Reconciler) loop() {
	// Delay first run to let startup writes settle
	select {
	case <-time.After(r.delay):
	case <-r.stop:
		return
	}

	r.Reconcile(context.Background())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Reconcile(context.Background())
		case <-r.stop:
			return
		}
	}
}

// Reconcile runs one pass and returns the number of keys uploaded.
func (r *Reconciler) Reconcile(ctx context.Context) int {
	keys, err := r.local.List(ctx, "")
	if err != nil {
		r.log.Warn().Err(err).Msg("reconcile list failed")
		return 0
	}

	var uploaded, failed int
	for _, key := range keys {
		if r.inBackup(ctx, key) {
			continue
		}
		data, err := r.local.Get(ctx, key)
		if err != nil {
			continue
		}
		putCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := r.backup.Put(putCtx, key, data); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("reconcile upload failed")
			failed++
		} else {
			uploaded++
		}
		cancel()
	}

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", len(keys)).
			Msg("reconcile complete")
	}
	return uploaded
}

func (r *Reconciler) inBackup(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if ex, ok := r.backup.(Exister); ok {
		return ex.Exists(ctx, key)
	}
	_, err := r.backup.Get(ctx, key)
	return err == nil
}
