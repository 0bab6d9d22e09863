package cache

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/burrowkit/burrow/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Defaults applied by [New] when no option overrides them.
const (
	DefaultMaxSize = 100
	DefaultTTL     = 5 * time.Minute
)

// Manager is the in-memory cache tier. It enforces two orthogonal bounds:
// LRU eviction caps the entry count under unbounded key churn, and TTL
// expiry caps staleness independent of access pattern. An entry can be
// evicted before it expires or expire before it is evicted.
//
// Reads consult memory first, then the mirror (re-seeding memory on a
// mirror hit), then report a miss. LRU eviction removes an entry from
// memory only — the mirrored copy stays and can re-seed a later read, the
// same way a lower cache tier survives an upper-tier eviction.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry

	maxSize    int
	defaultTTL time.Duration
	mirror     Mirror
	writeLimit *rate.Limiter
	sf         *singleflight.Group
	trace      *tracing.Config
	log        *zap.Logger
	now        func() time.Time

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64
}

// Option configures a [Manager].
type Option func(*Manager)

// WithMaxSize caps the number of in-memory entries. At capacity, inserting
// a new key evicts the entry with the oldest last access.
func WithMaxSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxSize = n
		}
	}
}

// WithDefaultTTL sets the TTL applied when Set is called with a zero TTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(m *Manager) { m.defaultTTL = d }
}

// WithMirror attaches a persisted mirror. Without it the cache is
// memory-only.
func WithMirror(mirror Mirror) Option {
	return func(m *Manager) {
		if mirror != nil {
			m.mirror = mirror
		}
	}
}

// WithWriteLimit throttles best-effort mirror writes to rps per second with
// the given burst. Writes over budget are dropped; the in-memory entry is
// unaffected.
func WithWriteLimit(rps float64, burst int) Option {
	return func(m *Manager) { m.writeLimit = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithSingleFlight coalesces concurrent GetOrSet loads for the same key into
// one loader call. Off by default: without it concurrent callers missing
// the same key may each invoke the loader, which matches the documented
// contract.
func WithSingleFlight() Option {
	return func(m *Manager) { m.sf = new(singleflight.Group) }
}

// WithTracing enables OpenTelemetry spans around loader invocations.
func WithTracing(cfg *tracing.Config) Option {
	return func(m *Manager) { m.trace = cfg }
}

// WithLogger sets the logger used for absorbed errors.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// New creates a Manager with the given options.
func New(opts ...Option) *Manager {
	m := &Manager{
		entries:    make(map[string]*entry),
		maxSize:    DefaultMaxSize,
		defaultTTL: DefaultTTL,
		mirror:     NopMirror{},
		log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// resolveTTL maps the public TTL convention (0 = default, negative = no
// expiration) onto the internal one (0 = no expiration).
func (m *Manager) resolveTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return m.defaultTTL
	case ttl < 0:
		return 0
	default:
		return ttl
	}
}

// insertLocked places e under key, evicting the least recently used entry
// first when a new key would exceed capacity. Callers must hold m.mu.
func (m *Manager) insertLocked(key string, e *entry) {
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxSize {
		var oldestKey string
		var oldest time.Time
		first := true
		for k, cur := range m.entries {
			if first || cur.lastAccess.Before(oldest) {
				oldestKey, oldest, first = k, cur.lastAccess, false
			}
		}
		delete(m.entries, oldestKey)
		m.evictions.Add(1)
	}
	m.entries[key] = e
}

// Set inserts or overwrites the entry for key and mirrors it best-effort.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	now := m.now()
	e := &entry{
		value:      value,
		createdAt:  now,
		ttl:        m.resolveTTL(ttl),
		lastAccess: now,
	}

	m.mu.Lock()
	m.insertLocked(key, e)
	env, encErr := e.envelope(key)
	m.mu.Unlock()

	// A skipped mirror write must still purge any envelope a previous Set
	// left behind, or an eviction could re-seed the superseded value.
	if encErr != nil {
		m.log.Debug("cache value not mirrorable", zap.String("key", key), zap.Error(encErr))
		m.mirror.Delete(ctx, key)
		return
	}
	if m.writeLimit != nil && !m.writeLimit.Allow() {
		m.log.Debug("cache mirror write throttled", zap.String("key", key))
		m.mirror.Delete(ctx, key)
		return
	}
	m.mirror.Store(ctx, env)
}

// Get returns the live value for key. Memory misses fall through to the
// mirror; a mirror hit re-seeds memory with the entry's original lifetime.
// Expired entries found in either tier are purged from both.
func (m *Manager) Get(ctx context.Context, key string) (any, bool) {
	now := m.now()

	m.mu.Lock()
	if e, ok := m.entries[key]; ok {
		if e.expired(now) {
			delete(m.entries, key)
			m.expirations.Add(1)
			m.mu.Unlock()
			m.mirror.Delete(ctx, key)
			m.misses.Add(1)
			return nil, false
		}
		e.accessCount++
		e.lastAccess = now
		value := e.value
		m.mu.Unlock()
		m.hits.Add(1)
		return value, true
	}
	m.mu.Unlock()

	env, ok := m.mirror.Load(ctx, key)
	if !ok {
		m.misses.Add(1)
		return nil, false
	}
	if env.Expired(now) {
		m.mirror.Delete(ctx, key)
		m.misses.Add(1)
		return nil, false
	}
	e, err := env.revive()
	if err != nil {
		m.log.Warn("corrupt mirrored cache entry dropped", zap.String("key", key), zap.Error(err))
		m.mirror.Delete(ctx, key)
		m.misses.Add(1)
		return nil, false
	}
	e.accessCount++
	e.lastAccess = now

	m.mu.Lock()
	// A concurrent Set may have landed while the mirror was consulted; the
	// in-memory entry wins.
	if cur, exists := m.entries[key]; exists && !cur.expired(now) {
		cur.accessCount++
		cur.lastAccess = now
		value := cur.value
		m.mu.Unlock()
		m.hits.Add(1)
		return value, true
	}
	m.insertLocked(key, e)
	m.mu.Unlock()

	m.hits.Add(1)
	return e.value, true
}

// Has reports whether a live value exists for key. It applies the same
// expiry check as Get but leaves access metadata and the hit/miss counters
// untouched.
func (m *Manager) Has(ctx context.Context, key string) bool {
	now := m.now()

	m.mu.Lock()
	if e, ok := m.entries[key]; ok {
		if !e.expired(now) {
			m.mu.Unlock()
			return true
		}
		delete(m.entries, key)
		m.expirations.Add(1)
		m.mu.Unlock()
		m.mirror.Delete(ctx, key)
		return false
	}
	m.mu.Unlock()

	env, ok := m.mirror.Load(ctx, key)
	if !ok {
		return false
	}
	if env.Expired(now) {
		m.mirror.Delete(ctx, key)
		return false
	}
	return true
}

// Delete removes key from memory and mirror, reporting whether an in-memory
// entry was removed.
func (m *Manager) Delete(ctx context.Context, key string) bool {
	m.mu.Lock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()

	m.mirror.Delete(ctx, key)
	return ok
}

// Clear removes every entry from memory and mirror. The hit/miss counters
// keep accumulating across clears.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	m.mirror.Clear(ctx)
}

// GetOrSet returns the cached value for key, invoking loader on a miss and
// caching its result. Unless single-flight was enabled, concurrent callers
// missing the same key may each invoke loader.
func (m *Manager) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) (any, error)) (any, error) {
	if v, ok := m.Get(ctx, key); ok {
		return v, nil
	}

	load := func(ctx context.Context) (any, error) {
		loadCtx, end := tracing.Start(ctx, m.trace, "cache.load", attribute.String("cache.key", key))
		v, err := loader(loadCtx)
		end(err)
		if err != nil {
			return nil, err
		}
		m.Set(ctx, key, v, ttl)
		return v, nil
	}

	if m.sf != nil {
		v, err, _ := m.sf.Do(key, func() (any, error) { return load(ctx) })
		return v, err
	}
	return load(ctx)
}

// InvalidatePattern deletes every key matching re from memory and mirror,
// returning the number of distinct keys removed across both tiers. The
// mirror is swept by pattern too: a matching key that only lives there
// (evicted, or left by an earlier session) must not re-seed later reads.
func (m *Manager) InvalidatePattern(ctx context.Context, re *regexp.Regexp) int {
	m.mu.Lock()
	var matched []string
	for k := range m.entries {
		if re.MatchString(k) {
			matched = append(matched, k)
		}
	}
	for _, k := range matched {
		delete(m.entries, k)
	}
	m.mu.Unlock()

	removed := make(map[string]struct{}, len(matched))
	for _, k := range matched {
		removed[k] = struct{}{}
	}
	for _, k := range m.mirror.DeleteMatching(ctx, re) {
		removed[k] = struct{}{}
	}
	return len(removed)
}

// Cleanup sweeps expired entries out of memory without waiting for a read
// to find them, bounding the memory held by dead entries. It returns the
// number of entries removed.
func (m *Manager) Cleanup(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	var dead []string
	for k, e := range m.entries {
		if e.expired(now) {
			dead = append(dead, k)
		}
	}
	for _, k := range dead {
		delete(m.entries, k)
	}
	m.expirations.Add(uint64(len(dead)))
	m.mu.Unlock()

	for _, k := range dead {
		m.mirror.Delete(ctx, k)
	}
	return len(dead)
}

// Stats returns a snapshot of the global counters and current size.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	size := len(m.entries)
	m.mu.Unlock()

	return Stats{
		Hits:        m.hits.Load(),
		Misses:      m.misses.Load(),
		Size:        size,
		Evictions:   m.evictions.Load(),
		Expirations: m.expirations.Load(),
	}
}
