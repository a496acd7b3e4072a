// Package retry re-runs an operation with exponential backoff while its
// error is classified as transient.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config controls retry behaviour.
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BackoffFactor multiplies the backoff after every retry. Defaults to 2.
	BackoffFactor float64

	// Jitter adds up to one extra backoff of random delay.
	Jitter bool
}

// DefaultConfig suits short database transactions that lose a lock race.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// IsRetryableFunc reports whether err is worth another attempt.
type IsRetryableFunc func(error) bool

// OnRetryFunc is called before each retry. attempt starts at 1.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

func (c Config) withDefaults() Config {
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 10 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 200 * time.Millisecond
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// Do calls fn until it succeeds, returns a non-retryable error, the retries
// run out, or ctx is done.
func Do[T any](
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() (T, error),
) (T, error) {
	var zero T
	cfg = cfg.withDefaults()
	backoff := cfg.InitialBackoff

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff
			if cfg.Jitter {
				wait += time.Duration(rand.Int64N(int64(backoff)))
			}
			if onRetry != nil {
				onRetry(attempt, lastErr, wait)
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry: context done after %d attempts: %w (last error: %w)", attempt, ctx.Err(), lastErr)
			case <-timer.C:
			}

			backoff = min(time.Duration(float64(backoff)*cfg.BackoffFactor), cfg.MaxBackoff)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("retry: gave up after %d retries: %w", cfg.MaxRetries, lastErr)
}

// DoVoid is Do for functions without a result.
func DoVoid(
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() error,
) error {
	_, err := Do(ctx, cfg, isRetryable, onRetry, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
