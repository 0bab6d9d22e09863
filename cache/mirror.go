package cache

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/burrowkit/burrow/store"
	"go.uber.org/zap"
)

// MirrorCollection is the store collection holding mirrored cache entries.
const MirrorCollection = "cache"

// Mirror is the persisted shadow of the in-memory cache. Every method fails
// soft: a broken mirror degrades to a cache miss or a dropped write, never
// an error surfaced to the caller. The mirror is consulted only to seed
// misses; it is not a second source of truth.
type Mirror interface {
	Load(ctx context.Context, key string) (Envelope, bool)
	Store(ctx context.Context, env Envelope)
	Delete(ctx context.Context, key string)

	// DeleteMatching removes every mirrored key matching re and returns the
	// keys removed. Keys that only live in the mirror (evicted from memory,
	// or written by an earlier session) must be covered too, or an
	// invalidated key could re-seed with its stale value.
	DeleteMatching(ctx context.Context, re *regexp.Regexp) []string

	Clear(ctx context.Context)
}

// NopMirror is the default mirror: the cache is memory-only.
type NopMirror struct{}

func (NopMirror) Load(context.Context, string) (Envelope, bool)           { return Envelope{}, false }
func (NopMirror) Store(context.Context, Envelope)                         {}
func (NopMirror) Delete(context.Context, string)                          {}
func (NopMirror) DeleteMatching(context.Context, *regexp.Regexp) []string { return nil }
func (NopMirror) Clear(context.Context)                                   {}

// StoreMirror persists envelopes into a [store.Backend] collection. It is
// the single boundary where persistence errors are logged and absorbed.
type StoreMirror struct {
	backend store.Backend
	log     *zap.Logger
}

// NewStoreMirror creates a mirror over the given backend. The backend must
// have been opened with the [MirrorCollection] collection. A nil logger is
// replaced with a no-op logger.
func NewStoreMirror(backend store.Backend, log *zap.Logger) *StoreMirror {
	if log == nil {
		log = zap.NewNop()
	}
	return &StoreMirror{backend: backend, log: log}
}

// Load reads the envelope stored under key. A record that fails to decode
// is purged and reported as a miss.
func (m *StoreMirror) Load(ctx context.Context, key string) (Envelope, bool) {
	var env Envelope
	var found, corrupt bool
	err := m.backend.WithCollection(ctx, MirrorCollection, store.ReadOnly, func(c store.Collection) error {
		raw, ok, err := c.Get(key)
		if err != nil || !ok {
			return err
		}
		if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
			corrupt = true
			return nil
		}
		found = true
		return nil
	})
	if err != nil {
		m.log.Debug("cache mirror read failed", zap.String("key", key), zap.Error(err))
		return Envelope{}, false
	}
	if corrupt {
		m.log.Warn("corrupt mirrored cache entry dropped", zap.String("key", key))
		m.Delete(ctx, key)
		return Envelope{}, false
	}
	return env, found
}

// Store writes the envelope, overwriting any previous record for its key.
func (m *StoreMirror) Store(ctx context.Context, env Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		m.log.Debug("cache entry not mirrorable", zap.String("key", env.Key), zap.Error(err))
		return
	}
	err = m.backend.WithCollection(ctx, MirrorCollection, store.ReadWrite, func(c store.Collection) error {
		return c.Put(env.Key, raw)
	})
	if err != nil {
		m.log.Debug("cache mirror write failed", zap.String("key", env.Key), zap.Error(err))
	}
}

// Delete removes the record for key, if any.
func (m *StoreMirror) Delete(ctx context.Context, key string) {
	err := m.backend.WithCollection(ctx, MirrorCollection, store.ReadWrite, func(c store.Collection) error {
		return c.Delete(key)
	})
	if err != nil {
		m.log.Debug("cache mirror delete failed", zap.String("key", key), zap.Error(err))
	}
}

// DeleteMatching removes every record whose key matches re, in one
// transaction, and returns the removed keys.
func (m *StoreMirror) DeleteMatching(ctx context.Context, re *regexp.Regexp) []string {
	var matched []string
	err := m.backend.WithCollection(ctx, MirrorCollection, store.ReadWrite, func(c store.Collection) error {
		matched = matched[:0]
		if err := c.ForEach(func(key string, _ []byte) error {
			if re.MatchString(key) {
				matched = append(matched, key)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, key := range matched {
			if err := c.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.log.Debug("cache mirror pattern delete failed", zap.Error(err))
		return nil
	}
	return matched
}

// Clear removes every mirrored record.
func (m *StoreMirror) Clear(ctx context.Context) {
	err := m.backend.WithCollection(ctx, MirrorCollection, store.ReadWrite, func(c store.Collection) error {
		return c.Clear()
	})
	if err != nil {
		m.log.Debug("cache mirror clear failed", zap.Error(err))
	}
}
