// Package ratelimit implements sliding-window counters for the two gates
// of the alert pipeline: the per-device witness rate and the global
// fan-out rate. Counters can live in-process or in a shared Redis
// keystore; both backends guarantee a counter never regresses within a
// fixed window.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// LimitedError reports a gate refusal with enough detail for the caller
// to build a client-facing message.
type LimitedError struct {
	Gate   string
	Limit  int
	Window time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded: %d per %s", e.Gate, e.Limit, e.Window)
}

// Window is a sliding-window event counter keyed by an opaque string.
type Window interface {
	// Incr records one event under the key and returns the number of
	// events in the window ending now, including the new one.
	Incr(ctx context.Context, key string, window time.Duration) (int, error)

	// Count returns the number of events in the window ending now,
	// without recording anything.
	Count(ctx context.Context, key string, window time.Duration) (int, error)
}

// WitnessGate enforces the per-device confirmation budget.
type WitnessGate struct {
	counter Window
	limit   int
	window  time.Duration
}

// NewWitnessGate builds the per-device gate. ratePerHour defaults to 5.
func NewWitnessGate(counter Window, ratePerHour int) *WitnessGate {
	if ratePerHour <= 0 {
		ratePerHour = 5
	}
	return &WitnessGate{counter: counter, limit: ratePerHour, window: time.Hour}
}

// Allow records one confirmation attempt for the device and returns a
// LimitedError when the budget is spent.
func (g *WitnessGate) Allow(ctx context.Context, deviceID string) error {
	n, err := g.counter.Incr(ctx, "witness:"+deviceID, g.window)
	if err != nil {
		return fmt.Errorf("witness gate: %w", err)
	}
	if n > g.limit {
		return &LimitedError{Gate: "witness", Limit: g.limit, Window: g.window}
	}
	return nil
}

// FanoutGate suppresses fan-out when too many sightings were created
// globally in the last 15 minutes. The emergency override is owned by the
// fan-out engine; the gate only answers whether the cap is hit.
type FanoutGate struct {
	counter Window
	limit   int
	window  time.Duration
}

// NewFanoutGate builds the global gate. cap15Min defaults to 3.
func NewFanoutGate(counter Window, cap15Min int) *FanoutGate {
	if cap15Min <= 0 {
		cap15Min = 3
	}
	return &FanoutGate{counter: counter, limit: cap15Min, window: 15 * time.Minute}
}

// Record counts one new sighting against the global window.
func (g *FanoutGate) Record(ctx context.Context) error {
	if _, err := g.counter.Incr(ctx, "fanout:global", g.window); err != nil {
		return fmt.Errorf("fanout gate: %w", err)
	}
	return nil
}

// Suppressed reports whether fan-out is currently over the cap.
func (g *FanoutGate) Suppressed(ctx context.Context) (bool, error) {
	n, err := g.counter.Count(ctx, "fanout:global", g.window)
	if err != nil {
		return false, fmt.Errorf("fanout gate: %w", err)
	}
	return n > g.limit, nil
}

// Limit returns the configured cap, for logging.
func (g *FanoutGate) Limit() int { return g.limit }
