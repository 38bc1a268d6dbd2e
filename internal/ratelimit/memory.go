package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryWindow is an in-process sliding-window counter. Suitable for
// single-node deployments and tests.
type MemoryWindow struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

// NewMemoryWindow creates an empty in-process counter.
func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Incr records one event and returns the window count including it.
func (w *MemoryWindow) Incr(ctx context.Context, key string, window time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().UTC()
	kept := w.prune(key, now.Add(-window))
	kept = append(kept, now)
	w.events[key] = kept
	return len(kept), nil
}

// Count returns the window count without recording anything.
func (w *MemoryWindow) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.prune(key, w.now().UTC().Add(-window))
	w.events[key] = kept
	return len(kept), nil
}

// prune drops events before the cutoff. Events are appended in time
// order, so the slice stays sorted.
func (w *MemoryWindow) prune(key string, cutoff time.Time) []time.Time {
	events := w.events[key]
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	return events[i:]
}
