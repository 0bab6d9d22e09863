package store

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// State is the backend availability decided once when a [Router] opens.
type State int

const (
	// Unprobed means no open attempt has happened yet.
	Unprobed State = iota
	// TransactionalAvailable means the bbolt backend opened and serves all
	// traffic.
	TransactionalAvailable
	// FlatOnly means the bbolt open failed and the flat file serves all
	// traffic for the rest of the process lifetime.
	FlatOnly
	// Unavailable means neither backend could open. Calls return
	// [ErrUnavailable].
	Unavailable
)

func (s State) String() string {
	switch s {
	case TransactionalAvailable:
		return "transactional"
	case FlatOnly:
		return "flat"
	case Unavailable:
		return "unavailable"
	default:
		return "unprobed"
	}
}

// Default file names inside the router's data directory.
const (
	boltFileName = "store.db"
	flatFileName = "store.json"
)

// Router exposes a uniform [Backend] API over whichever backend opened.
// The choice is made once at [OpenRouter] and never re-probed: flapping
// between backends mid-session would split data across two stores.
type Router struct {
	state    State
	backend  Backend
	flatPath string
	log      *zap.Logger
}

// OpenRouter probes the transactional backend under dir and falls back to
// the flat file when that fails. It never returns an error: with no working
// backend the router still functions, reporting [ErrUnavailable] on use.
// A nil logger is replaced with a no-op logger.
func OpenRouter(dir string, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{state: Unprobed, log: log, flatPath: filepath.Join(dir, flatFileName)}

	if dir == "" {
		r.state = Unavailable
		log.Warn("durable store disabled: no data directory configured")
		return r
	}

	bolt, err := OpenBolt(filepath.Join(dir, boltFileName), Collections...)
	if err == nil {
		r.state = TransactionalAvailable
		r.backend = bolt
		return r
	}
	log.Warn("transactional store unavailable, falling back to flat store", zap.Error(err))

	flat, err := OpenFlat(r.flatPath, Collections...)
	if err == nil {
		r.state = FlatOnly
		r.backend = flat
		return r
	}
	log.Error("flat store unavailable, durable persistence disabled", zap.Error(err))

	r.state = Unavailable
	return r
}

// State reports which backend the router settled on.
func (r *Router) State() State {
	return r.state
}

// WithCollection delegates to the active backend. It returns
// [ErrUnavailable] when no backend opened, which callers must treat as
// "persist elsewhere", not as an application error.
func (r *Router) WithCollection(ctx context.Context, name string, mode Mode, fn func(Collection) error) error {
	if r.backend == nil {
		return ErrUnavailable
	}
	return r.backend.WithCollection(ctx, name, mode, fn)
}

// Clear empties every named collection in the active backend. When the
// transactional backend is active, a flat file left over from an earlier
// degraded session is removed as well so no stale data resurfaces.
func (r *Router) Clear(ctx context.Context, names ...string) error {
	if r.backend == nil {
		return ErrUnavailable
	}
	for _, name := range names {
		err := r.backend.WithCollection(ctx, name, ReadWrite, func(c Collection) error {
			return c.Clear()
		})
		if err != nil {
			return err
		}
	}
	if r.state == TransactionalAvailable {
		if err := os.Remove(r.flatPath); err != nil && !os.IsNotExist(err) {
			r.log.Debug("stale flat store not removed", zap.Error(err))
		}
	}
	return nil
}

// Close closes the active backend.
func (r *Router) Close() error {
	if r.backend == nil {
		return nil
	}
	return r.backend.Close()
}
