package transcribe

import (
	"time"

	"github.com/snarg/juicer/internal/retry"
)

// RetryPolicy is the tunable part of a provider's retry behaviour.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns the per-provider defaults. Hugging Face gets
// the most patience because cold model loads take tens of seconds.
func DefaultRetryPolicy(id ProviderID) RetryPolicy {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	switch id {
	case Groq:
		p.MaxRetries, p.BaseDelay = 4, 2*time.Second
	case HuggingFace:
		p.MaxRetries, p.BaseDelay = 5, 3*time.Second
	}
	return p
}

// Config turns the policy into a retry configuration using the provider
// retry predicate.
func (p RetryPolicy) Config() retry.Config {
	return retry.Config{
		MaxRetries:  p.MaxRetries,
		BaseDelay:   p.BaseDelay,
		MaxDelay:    p.MaxDelay,
		ShouldRetry: IsRetryable,
	}
}
