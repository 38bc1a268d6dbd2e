package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestDo tests basic retry logic.
func TestDo(t *testing.T) {
	fastCfg := Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}

	t.Run("Success on first attempt", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), fastCfg, func() error {
			attempts++
			return nil
		})
		if err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("Success after retries", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), fastCfg, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary error")
			}
			return nil
		})
		if err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("Max retries exceeded", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), fastCfg, func() error {
			attempts++
			return errors.New("persistent error")
		})
		if err == nil {
			t.Error("Expected error after max retries")
		}
		// Initial attempt + 3 retries = 4 total.
		if attempts != 4 {
			t.Errorf("Expected 4 attempts, got %d", attempts)
		}
	})

	t.Run("Non-retriable error returns immediately", func(t *testing.T) {
		permanent := errors.New("permanent")
		cfg := fastCfg
		cfg.Retriable = func(err error) bool { return !errors.Is(err, permanent) }

		attempts := 0
		err := Do(context.Background(), cfg, func() error {
			attempts++
			return permanent
		})
		if !errors.Is(err, permanent) {
			t.Errorf("Expected permanent error, got: %v", err)
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("Context cancellation stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		attempts := 0
		err := Do(ctx, fastCfg, func() error {
			attempts++
			return errors.New("error")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got: %v", err)
		}
		if attempts > 1 {
			t.Errorf("Expected at most 1 attempt, got %d", attempts)
		}
	})
}

// TestDoResult tests the value-returning variant.
func TestDoResult(t *testing.T) {
	t.Run("Returns result on success", func(t *testing.T) {
		cfg := Config{MaxRetries: 2, InitialDelay: time.Millisecond}
		attempts := 0
		got, err := DoResult(context.Background(), cfg, func() (int, error) {
			attempts++
			if attempts < 2 {
				return 0, errors.New("not yet")
			}
			return 42, nil
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got != 42 {
			t.Errorf("Expected 42, got %d", got)
		}
	})
}
