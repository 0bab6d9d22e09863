// Package breaker provides a small circuit breaker used to stop hammering an
// unhealthy best-effort dependency (such as a remote cache mirror) on every
// operation. A tripped breaker rejects calls outright until a cool-down
// elapses, then lets a few probes through before trusting the dependency
// again.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] when the breaker is rejecting calls.
var ErrOpen = errors.New("breaker: open")

// State is the breaker's position in its closed/open/half-open cycle.
type State int

const (
	// Closed lets calls through and counts consecutive failures.
	Closed State = iota
	// Open rejects calls until the cool-down elapses.
	Open
	// HalfOpen lets a bounded number of probe calls through. All must
	// succeed to close the breaker; one failure reopens it.
	HalfOpen
)

// Config holds the circuit breaker parameters.
type Config struct {
	// FailureThreshold is how many consecutive failures trip the breaker.
	FailureThreshold int

	// OpenTimeout is the cool-down before probing resumes.
	OpenTimeout time.Duration

	// HalfOpenMaxSuccess is how many consecutive probe successes close the
	// breaker again.
	HalfOpenMaxSuccess int
}

// Breaker tracks the health of one dependency. All methods are safe for
// concurrent use.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	streak   int       // consecutive failures (Closed) or successes (HalfOpen)
	openedAt time.Time
	nowFunc  func() time.Time // for testing; defaults to time.Now
}

// New creates a Breaker with the given configuration.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, nowFunc: time.Now}
}

// Do runs fn through the breaker: it returns [ErrOpen] without calling fn
// when calls are being rejected, and otherwise records fn's outcome.
func (b *Breaker) Do(fn func() error) error {
	if !b.admit() {
		return ErrOpen
	}
	err := fn()
	b.record(err == nil)
	return err
}

// State returns the breaker's current state, advancing Open to HalfOpen when
// the cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	return b.state
}

// admit reports whether a call may proceed.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()

	switch b.state {
	case Open:
		return false
	case HalfOpen:
		return b.streak < b.cfg.HalfOpenMaxSuccess
	default:
		return true
	}
}

// record folds a call outcome into the state machine.
func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case ok && b.state == HalfOpen:
		b.streak++
		if b.streak >= b.cfg.HalfOpenMaxSuccess {
			b.state = Closed
			b.streak = 0
		}
	case ok:
		b.streak = 0
	case b.state == HalfOpen:
		b.trip()
	default:
		b.streak++
		if b.streak >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

// advanceLocked moves Open to HalfOpen once the cool-down has elapsed.
// Callers must hold b.mu.
func (b *Breaker) advanceLocked() {
	if b.state == Open && b.nowFunc().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.state = HalfOpen
		b.streak = 0
	}
}

// trip opens the breaker. Callers must hold b.mu.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.nowFunc()
	b.streak = 0
}
