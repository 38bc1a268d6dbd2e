package enrich

import (
	"fmt"
	"sync"
	"time"
)

// ttlCache is a small per-key expiry cache shared by the processors.
// Eviction is lazy: stale entries are dropped on access.
type ttlCache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]ttlEntry[T]
}

type ttlEntry[T any] struct {
	value   T
	expires time.Time
}

// newTTLCache creates a cache. A zero or negative ttl means entries never
// expire.
func newTTLCache[T any](ttl time.Duration) *ttlCache[T] {
	return &ttlCache[T]{
		ttl:     ttl,
		entries: make(map[string]ttlEntry[T]),
	}
}

func (c *ttlCache[T]) get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		delete(c.entries, key)
		var zero T
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[T]) put(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}

	now := time.Now()
	for k, e := range c.entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = ttlEntry[T]{value: value, expires: expires}
}

// locationKey quantises a position to ~100 m so nearby lookups share a
// cache entry.
func locationKey(lat, lon float64) string {
	return fmt.Sprintf("%.3f:%.3f", lat, lon)
}

// locationHourKey also quantises the timestamp to the hour.
func locationHourKey(lat, lon float64, t time.Time) string {
	return fmt.Sprintf("%s:%s", locationKey(lat, lon), t.UTC().Format("2006010215"))
}
