package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pruner drops expired cache entries on a fixed interval so stale results
// don't linger until their next lookup.
type Pruner struct {
	cache    *Cache
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewPruner creates a pruner for c. interval <= 0 defaults to one hour.
func NewPruner(c *Cache, interval time.Duration, log zerolog.Logger) *Pruner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{
		cache:    c,
		interval: interval,
		log:      log.With().Str("component", "cache-pruner").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *Pruner) Start() {
	go p.loop()
}

// Stop ends the loop and waits for an in-flight prune to finish.
func (p *Pruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Pruner) loop() {
	defer close(p.done)

	// Run once on startup to clear anything that expired during downtime
	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.prune()
		case <-p.stop:
			return
		}
	}
}

func (p *Pruner) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := p.cache.Prune(ctx)
	if err != nil {
		p.log.Warn().Err(err).Int("pruned", removed).Msg("cache prune failed")
		return
	}
	if removed > 0 {
		p.log.Info().Int("pruned", removed).Msg("cache prune complete")
	}
}
