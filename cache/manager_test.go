package cache

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock drives entry lifetimes deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(t *testing.T, clock *fakeClock, opts ...Option) *Manager {
	t.Helper()
	m := New(opts...)
	if clock != nil {
		m.now = clock.Now
	}
	return m
}

func TestManager_GetSet(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := t.Context()

	if _, ok := m.Get(ctx, "k1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	m.Set(ctx, "k1", "v1", 0)
	v, ok := m.Get(ctx, "k1")
	if !ok {
		t.Fatal("expected hit")
	}
	if v != "v1" {
		t.Fatalf("got %v, want v1", v)
	}
}

func TestManager_TTLBoundary(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	ctx := t.Context()

	m.Set(ctx, "ttl", "temp", time.Second)

	clock.Advance(999 * time.Millisecond)
	if _, ok := m.Get(ctx, "ttl"); !ok {
		t.Fatal("expected hit just before TTL")
	}

	// Exactly at the TTL the entry is logically absent.
	clock.Advance(time.Millisecond)
	if _, ok := m.Get(ctx, "ttl"); ok {
		t.Fatal("expected miss at TTL")
	}
	if m.Has(ctx, "ttl") {
		t.Fatal("Has must agree with Get after expiry")
	}
}

func TestManager_NegativeTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	ctx := t.Context()

	m.Set(ctx, "pin", 42, -1)
	clock.Advance(1000 * time.Hour)
	if _, ok := m.Get(ctx, "pin"); !ok {
		t.Fatal("negative TTL entry must not expire")
	}
}

func TestManager_LRUEviction(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, WithMaxSize(3))
	ctx := t.Context()

	m.Set(ctx, "k1", 1, 0)
	clock.Advance(time.Second)
	m.Set(ctx, "k2", 2, 0)
	clock.Advance(time.Second)
	m.Set(ctx, "k3", 3, 0)
	clock.Advance(time.Second)

	// Touch k1 and k2 so k3 becomes the least recently used.
	m.Get(ctx, "k1")
	clock.Advance(time.Second)
	m.Get(ctx, "k2")
	clock.Advance(time.Second)

	m.Set(ctx, "k4", 4, 0)

	if _, ok := m.Get(ctx, "k3"); ok {
		t.Fatal("k3 should have been evicted")
	}
	for _, k := range []string{"k1", "k2", "k4"} {
		if _, ok := m.Get(ctx, k); !ok {
			t.Fatalf("%s should have survived eviction", k)
		}
	}
	if s := m.Stats(); s.Evictions != 1 {
		t.Fatalf("evictions = %d, want 1", s.Evictions)
	}
}

func TestManager_OverwriteAtCapacityDoesNotEvict(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, WithMaxSize(2))
	ctx := t.Context()

	m.Set(ctx, "a", 1, 0)
	clock.Advance(time.Second)
	m.Set(ctx, "b", 2, 0)
	clock.Advance(time.Second)
	m.Set(ctx, "a", 10, 0)

	if s := m.Stats(); s.Evictions != 0 || s.Size != 2 {
		t.Fatalf("evictions=%d size=%d, want 0 and 2", s.Evictions, s.Size)
	}
}

func TestManager_Stats(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := t.Context()

	if got := m.Stats().HitRate(); got != 0 {
		t.Fatalf("hit rate with no reads = %v, want 0", got)
	}

	m.Set(ctx, "k", "v", 0)
	m.Get(ctx, "k")    // hit
	m.Get(ctx, "k")    // hit
	m.Get(ctx, "nope") // miss

	s := m.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Fatalf("hits=%d misses=%d, want 2 and 1", s.Hits, s.Misses)
	}
	want := 2.0 / 3.0
	if got := s.HitRate(); got != want {
		t.Fatalf("hit rate = %v, want %v", got, want)
	}
	if s.Size != 1 {
		t.Fatalf("size = %d, want 1", s.Size)
	}
}

func TestManager_HasDoesNotTouchMetadata(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := t.Context()

	m.Set(ctx, "k", "v", 0)
	before := m.Stats()

	if !m.Has(ctx, "k") {
		t.Fatal("expected Has true")
	}
	if m.Has(ctx, "other") {
		t.Fatal("expected Has false")
	}

	after := m.Stats()
	if after.Hits != before.Hits || after.Misses != before.Misses {
		t.Fatal("Has must not move the hit/miss counters")
	}

	m.mu.Lock()
	count := m.entries["k"].accessCount
	m.mu.Unlock()
	if count != 0 {
		t.Fatalf("accessCount = %d after Has, want 0", count)
	}
}

func TestManager_DeleteAndClear(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := t.Context()

	m.Set(ctx, "k", "v", 0)
	if !m.Delete(ctx, "k") {
		t.Fatal("Delete should report removal")
	}
	if m.Delete(ctx, "k") {
		t.Fatal("second Delete should report nothing removed")
	}

	m.Set(ctx, "a", 1, 0)
	m.Set(ctx, "b", 2, 0)
	m.Clear(ctx)
	if s := m.Stats(); s.Size != 0 {
		t.Fatalf("size after clear = %d, want 0", s.Size)
	}
	// Clearing again is a no-op.
	m.Clear(ctx)
	if s := m.Stats(); s.Size != 0 {
		t.Fatalf("size after second clear = %d, want 0", s.Size)
	}
}

func TestManager_GetOrSet_ColdReadThrough(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := t.Context()

	var calls atomic.Int32
	loader := func(context.Context) (any, error) {
		calls.Add(1)
		return "loaded", nil
	}

	v, err := m.GetOrSet(ctx, "k", time.Second, loader)
	if err != nil {
		t.Fatalf("GetOrSet: %v", err)
	}
	if v != "loaded" {
		t.Fatalf("got %v, want loaded", v)
	}

	got, ok := m.Get(ctx, "k")
	if !ok || got != "loaded" {
		t.Fatalf("follow-up Get = %v %v, want loaded true", got, ok)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("loader called %d times, want 1", n)
	}
}

func TestManager_GetOrSet_LoaderError(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := t.Context()

	boom := errors.New("boom")
	if _, err := m.GetOrSet(ctx, "k", time.Second, func(context.Context) (any, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if m.Has(ctx, "k") {
		t.Fatal("failed load must not cache anything")
	}
}

func TestManager_GetOrSet_SingleFlight(t *testing.T) {
	m := newTestManager(t, nil, WithSingleFlight())
	ctx := t.Context()

	var calls atomic.Int32
	gate := make(chan struct{})
	loader := func(context.Context) (any, error) {
		calls.Add(1)
		<-gate
		return "once", nil
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.GetOrSet(ctx, "k", time.Second, loader)
			if err != nil || v != "once" {
				t.Errorf("GetOrSet = %v %v", v, err)
			}
		}()
	}
	// Let the goroutines pile up on the same key, then release.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("loader called %d times with single-flight, want 1", n)
	}
}

func TestManager_InvalidatePattern(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := t.Context()

	m.Set(ctx, "user:1", "a", 0)
	m.Set(ctx, "user:2", "b", 0)
	m.Set(ctx, "order:1", "c", 0)

	n := m.InvalidatePattern(ctx, regexp.MustCompile(`^user:`))
	if n != 2 {
		t.Fatalf("invalidated %d, want 2", n)
	}
	if _, ok := m.Get(ctx, "order:1"); !ok {
		t.Fatal("order:1 must survive")
	}
	for _, k := range []string{"user:1", "user:2"} {
		if _, ok := m.Get(ctx, k); ok {
			t.Fatalf("%s must be gone", k)
		}
	}
}

func TestManager_Cleanup(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	ctx := t.Context()

	m.Set(ctx, "short", 1, time.Second)
	m.Set(ctx, "long", 2, time.Hour)

	clock.Advance(2 * time.Second)
	if n := m.Cleanup(ctx); n != 1 {
		t.Fatalf("cleanup removed %d, want 1", n)
	}
	if s := m.Stats(); s.Size != 1 || s.Expirations != 1 {
		t.Fatalf("size=%d expirations=%d, want 1 and 1", s.Size, s.Expirations)
	}
	// A second sweep finds nothing.
	if n := m.Cleanup(ctx); n != 0 {
		t.Fatalf("second cleanup removed %d, want 0", n)
	}
}
