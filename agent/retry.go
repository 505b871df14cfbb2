package agent

import (
	"context"
	"math"
	"time"
)

// RetryConfig configures how transient provider failures are retried.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Default: 3
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	// Default: 30 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier is the growth factor between retries.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields. A negative MaxRetries
// disables retries.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// MaxAttempts returns the total number of calls made for one turn.
func (c RetryConfig) MaxAttempts() int { return c.MaxRetries + 1 }

// Backoff returns the wait before retry n (1-based):
// InitialBackoff * BackoffMultiplier^(n-1), capped at MaxBackoff.
func (c RetryConfig) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	d := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(n-1))
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		return c.MaxBackoff
	}

	return time.Duration(d)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
