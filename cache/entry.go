package cache

import (
	"encoding/json"
	"time"
)

// entry is one live in-memory cache record. An entry whose TTL has elapsed
// is logically absent even while it still occupies the map, so every read
// path re-checks expiry before returning it.
type entry struct {
	value       any
	createdAt   time.Time
	ttl         time.Duration // 0 means no expiration
	accessCount uint64
	lastAccess  time.Time
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) >= e.ttl
}

// Envelope is the persisted form of a cache entry. The whole envelope is
// mirrored (not just the value) so an entry re-seeded after a restart keeps
// its original creation time and TTL — a restart can never extend an
// entry's life.
type Envelope struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	CreatedAt   time.Time       `json:"createdAt"`
	TTLMillis   int64           `json:"ttlMs"`
	AccessCount uint64          `json:"accessCount"`
	LastAccess  time.Time       `json:"lastAccess"`
}

// Expired reports whether the persisted entry's TTL has elapsed at now.
func (env Envelope) Expired(now time.Time) bool {
	return env.TTLMillis > 0 && now.Sub(env.CreatedAt) >= time.Duration(env.TTLMillis)*time.Millisecond
}

// envelope converts a live entry to its persisted form. It fails when the
// value is not JSON-representable; the caller drops the mirror write in
// that case.
func (e *entry) envelope(key string) (Envelope, error) {
	raw, err := json.Marshal(e.value)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Key:         key,
		Value:       raw,
		CreatedAt:   e.createdAt,
		TTLMillis:   e.ttl.Milliseconds(),
		AccessCount: e.accessCount,
		LastAccess:  e.lastAccess,
	}, nil
}

// revive converts a persisted envelope back into a live entry. Values come
// back in generic JSON shapes (maps, slices, float64 numbers), the same way
// the value would round-trip through any JSON store.
func (env Envelope) revive() (*entry, error) {
	var value any
	if err := json.Unmarshal(env.Value, &value); err != nil {
		return nil, err
	}
	return &entry{
		value:       value,
		createdAt:   env.CreatedAt,
		ttl:         time.Duration(env.TTLMillis) * time.Millisecond,
		accessCount: env.AccessCount,
		lastAccess:  env.LastAccess,
	}, nil
}
