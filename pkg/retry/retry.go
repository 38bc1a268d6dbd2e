// Package retry provides exponential-backoff retry for transient failures
// against remote providers and the persistence backend. Callers decide which
// errors are worth retrying via a predicate; non-retriable errors are
// returned immediately.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config configures retry behavior with exponential backoff.
type Config struct {
	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int

	// InitialDelay is the initial backoff delay (default: 100 ms)
	InitialDelay time.Duration

	// MaxDelay is the maximum backoff delay (default: 5 seconds)
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (default: 2.0 for exponential)
	Multiplier float64

	// Retriable reports whether an error should be retried. When nil,
	// every error is treated as retriable.
	Retriable func(error) bool
}

// DefaultConfig returns the backoff settings used for store operations:
// up to three retries, which matches the persistence gateway contract for
// transient backend errors.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Do executes fn with exponential backoff until it succeeds, the error is
// non-retriable, the context is done, or MaxRetries is exhausted.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoResult executes a function returning a value with the same backoff
// policy as Do.
func DoResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	multiplier := cfg.Multiplier
	if multiplier <= 1 {
		multiplier = 2.0
	}

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return result, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err

		if cfg.Retriable != nil && !cfg.Retriable(err) {
			return result, err
		}

		if attempt == cfg.MaxRetries {
			break
		}

		next := time.Duration(float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt)))
		if next > maxDelay || next <= 0 {
			delay = maxDelay
		} else {
			delay = next
		}
	}

	return result, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}
