// Package cache provides a TTL/LRU in-memory cache with an optional
// best-effort persisted mirror. The in-memory map is the single source of
// truth for a session; the mirror only seeds misses after a restart.
package cache

import (
	"context"
	"regexp"
	"time"
)

// Cache is the public caching contract exposed to feature code.
type Cache interface {
	// Get retrieves a value by key. The boolean indicates a cache hit.
	// A hit bumps the entry's access metadata.
	Get(ctx context.Context, key string) (any, bool)

	// Set stores a value under key with the given TTL. A zero TTL uses the
	// cache default; a negative TTL disables expiration for the entry.
	Set(ctx context.Context, key string, value any, ttl time.Duration)

	// Has reports whether a live value exists for key without touching the
	// entry's access metadata or the hit/miss counters.
	Has(ctx context.Context, key string) bool

	// Delete removes the entry from memory and mirror, reporting whether an
	// in-memory entry was removed.
	Delete(ctx context.Context, key string) bool

	// Clear removes every entry from memory and mirror.
	Clear(ctx context.Context)

	// GetOrSet returns the cached value for key. On a miss it calls loader,
	// stores the result, and returns it. Concurrent callers missing the
	// same key may each invoke loader unless single-flight is enabled.
	GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) (any, error)) (any, error)

	// InvalidatePattern deletes every key matching re from memory and
	// mirror, including keys that only live in the mirror, and returns the
	// number of distinct keys removed.
	InvalidatePattern(ctx context.Context, re *regexp.Regexp) int

	// Cleanup sweeps expired entries out of memory and returns the number
	// removed. Intended to run on a periodic timer.
	Cleanup(ctx context.Context) int

	// Stats returns the global hit/miss counters and current size.
	Stats() Stats
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Size        int
	Evictions   uint64
	Expirations uint64
}

// HitRate returns hits / (hits + misses), or 0 when no reads happened.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
