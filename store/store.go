// Package store provides durable key-value persistence organised into named
// collections, with a transactional bbolt backend and a flat single-file
// fallback behind a common contract.
package store

import (
	"context"
	"errors"
)

// Mode declares the access intent of a collection handler.
type Mode int

const (
	// ReadOnly handlers may not mutate the collection.
	ReadOnly Mode = iota
	// ReadWrite handlers may mutate the collection; mutations are committed
	// only when the handler returns nil.
	ReadWrite
)

// ErrUnavailable indicates that no durable backend could be opened. It is
// distinct from an empty collection, which is an ordinary nil-error result.
var ErrUnavailable = errors.New("store: durable backend unavailable")

// ErrReadOnly is returned when a handler mutates a collection opened with
// ReadOnly mode.
var ErrReadOnly = errors.New("store: collection opened read-only")

// Well-known collection names pre-declared at backend open time.
const (
	CollectionProgress = "progress"
	CollectionVisited  = "visited"
)

// Collections lists every collection a backend creates on open.
var Collections = []string{CollectionProgress, CollectionVisited}

// Collection is the view of a single named collection inside one
// transaction. Handlers receive it from [Backend.WithCollection] and must
// not retain it after the handler returns.
type Collection interface {
	// Get returns the value stored under key. The boolean reports presence.
	Get(key string) ([]byte, bool, error)

	// Put stores value under key, overwriting any previous value. Values
	// must be valid JSON documents: the flat backend embeds them directly
	// into its on-disk document.
	Put(key string, value []byte) error

	// Insert stores value under a fresh auto-incremented key and returns
	// the assigned sequence number. The same JSON requirement as Put
	// applies.
	Insert(value []byte) (uint64, error)

	// Delete removes the value stored under key. Missing keys are not an
	// error.
	Delete(key string) error

	// ForEach visits every record in an order that is stable for the life
	// of the backend; auto-keyed records always iterate in insertion order.
	// Returning a non-nil error from fn stops the iteration and is returned
	// to the caller.
	ForEach(fn func(key string, value []byte) error) error

	// Clear removes every record from the collection.
	Clear() error
}

// Backend is a durable store exposing transactional access to named
// collections. The entire handler runs inside one transaction: multi-step
// read-modify-write sequences are atomic with respect to other callers.
type Backend interface {
	WithCollection(ctx context.Context, name string, mode Mode, fn func(Collection) error) error
	Close() error
}
