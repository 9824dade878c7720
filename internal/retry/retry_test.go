package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDo(t *testing.T) {
	t.Run("first_success_no_sleep", func(t *testing.T) {
		var delays []time.Duration
		calls := 0
		v, err := Do(context.Background(), Config{MaxRetries: 3, BaseDelay: time.Second, Sleep: noSleep(&delays)},
			func(context.Context) (int, error) {
				calls++
				return 42, nil
			})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		if v != 42 {
			t.Errorf("v = %d, want 42", v)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
		if len(delays) != 0 {
			t.Errorf("slept %d times, want 0", len(delays))
		}
	})

	t.Run("terminates_after_max_retries", func(t *testing.T) {
		var delays []time.Duration
		calls := 0
		_, err := Do(context.Background(), Config{MaxRetries: 4, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Sleep: noSleep(&delays)},
			func(context.Context) (string, error) {
				calls++
				return "", errBoom
			})
		if !errors.Is(err, errBoom) {
			t.Errorf("err = %v, want errBoom", err)
		}
		if calls != 4 {
			t.Errorf("calls = %d, want 4", calls)
		}
		if len(delays) != 3 {
			t.Errorf("sleeps = %d, want 3", len(delays))
		}
	})

	t.Run("non_retryable_short_circuits", func(t *testing.T) {
		var delays []time.Duration
		calls := 0
		_, err := Do(context.Background(), Config{
			MaxRetries:  5,
			BaseDelay:   time.Second,
			ShouldRetry: func(error) bool { return false },
			Sleep:       noSleep(&delays),
		}, func(context.Context) (int, error) {
			calls++
			return 0, errBoom
		})
		if !errors.Is(err, errBoom) {
			t.Errorf("err = %v, want errBoom", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
		if len(delays) != 0 {
			t.Errorf("sleeps = %d, want 0", len(delays))
		}
	})

	t.Run("succeeds_after_failures", func(t *testing.T) {
		var delays []time.Duration
		var retried []int
		calls := 0
		v, err := Do(context.Background(), Config{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			Sleep:      noSleep(&delays),
			OnRetry:    func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) },
		}, func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errBoom
			}
			return calls, nil
		})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		if v != 3 {
			t.Errorf("v = %d, want 3", v)
		}
		if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
			t.Errorf("OnRetry attempts = %v, want [1 2]", retried)
		}
	})

	t.Run("cancelled_sleep_returns_last_error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := Do(ctx, Config{
			MaxRetries: 5,
			BaseDelay:  time.Hour,
			Sleep: func(ctx context.Context, _ time.Duration) error {
				cancel()
				return ctx.Err()
			},
		}, func(context.Context) (int, error) {
			calls++
			return 0, errBoom
		})
		if !errors.Is(err, errBoom) {
			t.Errorf("err = %v, want errBoom", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}

func TestBackoff(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := cfg.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}

	if got := cfg.Backoff(200); got != 10*time.Second {
		t.Errorf("Backoff(200) = %v, want cap", got)
	}
}

func TestJitterBounds(t *testing.T) {
	for _, r := range []float64{0, 0.5, 0.999999} {
		cfg := Config{BaseDelay: 4 * time.Second, MaxDelay: 10 * time.Second, Rand: func() float64 { return r }}.withDefaults()
		got := cfg.jittered(1)
		if got < 3*time.Second || got > 5*time.Second {
			t.Errorf("jittered(1) with r=%v = %v, want within ±25%% of 4s", r, got)
		}
	}
	cfg := Config{BaseDelay: 4 * time.Second, Rand: func() float64 { return 0.5 }}.withDefaults()
	if got := cfg.jittered(1); got != 4*time.Second {
		t.Errorf("jittered midpoint = %v, want 4s", got)
	}
}
