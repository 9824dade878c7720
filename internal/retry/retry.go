// Package retry runs an operation with capped exponential backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// jitterFraction spreads each delay uniformly over ±25%.
const jitterFraction = 0.25

// Config controls Do. MaxRetries is the total number of calls, including
// the first.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// ShouldRetry decides whether an error is worth another attempt.
	// nil retries everything.
	ShouldRetry func(error) bool

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Rand returns a value in [0,1) for jitter. Defaults to math/rand.
	Rand func() float64

	// Sleep waits for d or until ctx is done. Tests replace it to avoid
	// real waits.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = func(error) bool { return true }
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
	return c
}

// Backoff returns the un-jittered delay after the given failed attempt
// (1-based): min(MaxDelay, BaseDelay·2^(attempt-1)).
func (c Config) Backoff(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			break
		}
		if d <= 0 {
			// overflow
			d = c.MaxDelay
			break
		}
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

func (c Config) jittered(attempt int) time.Duration {
	d := float64(c.Backoff(attempt))
	d += d * jitterFraction * (2*c.Rand() - 1)
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Do calls op until it succeeds, returns an error ShouldRetry rejects, or
// MaxRetries calls have been made. The returned error is op's last error.
// Cancelling ctx stops further attempts.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= cfg.MaxRetries || !cfg.ShouldRetry(err) || ctx.Err() != nil {
			return zero, err
		}

		delay := cfg.jittered(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}
		if cfg.Sleep(ctx, delay) != nil {
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
