package llm

import (
	"math/rand/v2"
	"time"
)

// RetryConfig controls how often one endpoint is retried before the client
// falls back to the next model in the chain.
type RetryConfig struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration

	// Jitter is the random spread applied to each delay, as a fraction.
	Jitter float64
}

// DefaultRetryConfig returns three attempts starting at two seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
		Jitter:            0.25,
	}
}

// WithMaxAttempts returns a copy with MaxAttempts set, keeping at least one attempt.
func (c RetryConfig) WithMaxAttempts(n int) RetryConfig {
	c.MaxAttempts = max(n, 1)
	return c
}

// Backoff returns the delay after the given failed attempt (1-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := float64(c.BackoffBase)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffMultiplier
	}
	d = min(d, float64(c.MaxBackoff))

	if c.Jitter > 0 {
		d += d * c.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}
