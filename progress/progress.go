// Package progress records learning-progress facts durably: an append-only
// action log and per-section visit counters. Writes are best-effort
// telemetry — storage failures are absorbed and logged, never surfaced to
// the caller.
package progress

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/burrowkit/burrow/contextx"
	"github.com/burrowkit/burrow/store"
	"go.uber.org/zap"
)

// Entry is one immutable progress-log record. ID is assigned by the backend
// on insert and is zero for entries that only ever lived in the in-memory
// fallback.
type Entry struct {
	ID        uint64         `json:"id,omitempty"`
	Action    string         `json:"action"`
	ConceptID string         `json:"conceptId,omitempty"`
	Section   string         `json:"section,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp int64          `json:"timestamp"` // epoch milliseconds
}

// VisitedSection counts visits to one named section. It is updated in
// place on every visit and removed only by [Store.Clear].
type VisitedSection struct {
	Section    string `json:"section"`
	VisitCount uint64 `json:"visitCount"`
	LastVisit  int64  `json:"lastVisit"` // epoch milliseconds
}

// Store is the durable progress tracker. All methods are safe for
// concurrent use. When the router reports the durable backend unavailable,
// writes land in a session-local in-memory fallback so reads within the
// session stay complete.
type Store struct {
	router *store.Router
	log    *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	memProgress []Entry
	memVisited  map[string]VisitedSection
	memOrder    []string
}

// NewStore creates a progress store over the given router. A nil logger is
// replaced with a no-op logger.
func NewStore(router *store.Router, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		router:     router,
		log:        log,
		now:        time.Now,
		memVisited: make(map[string]VisitedSection),
	}
}

// Log appends an entry to the progress log. A zero Timestamp is stamped
// with the current time, and the session identity from ctx (if any) is
// folded into the entry metadata. Failures are absorbed: the entry falls
// back to the in-memory list and the error is logged.
func (s *Store) Log(ctx context.Context, e Entry) {
	if e.Timestamp == 0 {
		e.Timestamp = s.now().UnixMilli()
	}
	if sess, ok := contextx.SessionFromContext(ctx); ok && sess.ID != "" {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata["sessionId"] = sess.ID
		if sess.Client != "" {
			e.Metadata["client"] = sess.Client
		}
	}

	raw, err := json.Marshal(e)
	if err != nil {
		s.log.Warn("progress entry not serializable, dropped", zap.String("action", e.Action), zap.Error(err))
		return
	}

	err = s.router.WithCollection(ctx, store.CollectionProgress, store.ReadWrite, func(c store.Collection) error {
		_, insErr := c.Insert(raw)
		return insErr
	})
	if err == nil {
		return
	}
	s.log.Debug("progress write degraded to memory", zap.Error(err))

	s.mu.Lock()
	s.memProgress = append(s.memProgress, e)
	s.mu.Unlock()
}

// All returns every logged entry: durable records first (insertion order),
// then any entries held by the in-memory fallback. Corrupt stored records
// are skipped and logged.
func (s *Store) All(ctx context.Context) []Entry {
	var out []Entry

	err := s.router.WithCollection(ctx, store.CollectionProgress, store.ReadOnly, func(c store.Collection) error {
		return c.ForEach(func(key string, value []byte) error {
			var e Entry
			if jsonErr := json.Unmarshal(value, &e); jsonErr != nil {
				s.log.Warn("corrupt progress record skipped", zap.String("key", key), zap.Error(jsonErr))
				return nil
			}
			if id, parseErr := strconv.ParseUint(key, 16, 64); parseErr == nil {
				e.ID = id
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		s.log.Debug("progress read degraded to memory", zap.Error(err))
	}

	s.mu.Lock()
	out = append(out, s.memProgress...)
	s.mu.Unlock()
	return out
}

// TrackVisit increments the visit counter for section and refreshes its
// last-visit time. The read-increment-write runs inside one collection
// transaction, so concurrent visits never lose an increment. Failures are
// absorbed into the in-memory fallback.
func (s *Store) TrackVisit(ctx context.Context, section string) {
	now := s.now().UnixMilli()

	err := s.router.WithCollection(ctx, store.CollectionVisited, store.ReadWrite, func(c store.Collection) error {
		v := VisitedSection{Section: section}
		raw, ok, getErr := c.Get(section)
		if getErr != nil {
			return getErr
		}
		if ok {
			if jsonErr := json.Unmarshal(raw, &v); jsonErr != nil {
				s.log.Warn("corrupt visited record replaced", zap.String("section", section), zap.Error(jsonErr))
				v = VisitedSection{Section: section}
			}
		}
		v.VisitCount++
		v.LastVisit = now
		updated, marshalErr := json.Marshal(v)
		if marshalErr != nil {
			return marshalErr
		}
		return c.Put(section, updated)
	})
	if err == nil {
		return
	}
	s.log.Debug("visit tracking degraded to memory", zap.String("section", section), zap.Error(err))

	s.mu.Lock()
	v, ok := s.memVisited[section]
	if !ok {
		v = VisitedSection{Section: section}
		s.memOrder = append(s.memOrder, section)
	}
	v.VisitCount++
	v.LastVisit = now
	s.memVisited[section] = v
	s.mu.Unlock()
}

// Visited returns every tracked section. Sections present in both the
// durable backend and the in-memory fallback (possible after a transient
// write failure) are merged: counts add up, the later visit time wins.
func (s *Store) Visited(ctx context.Context) []VisitedSection {
	var out []VisitedSection
	index := make(map[string]int)

	err := s.router.WithCollection(ctx, store.CollectionVisited, store.ReadOnly, func(c store.Collection) error {
		return c.ForEach(func(key string, value []byte) error {
			var v VisitedSection
			if jsonErr := json.Unmarshal(value, &v); jsonErr != nil {
				s.log.Warn("corrupt visited record skipped", zap.String("section", key), zap.Error(jsonErr))
				return nil
			}
			index[v.Section] = len(out)
			out = append(out, v)
			return nil
		})
	})
	if err != nil {
		s.log.Debug("visited read degraded to memory", zap.Error(err))
	}

	s.mu.Lock()
	for _, section := range s.memOrder {
		v := s.memVisited[section]
		if i, ok := index[section]; ok {
			out[i].VisitCount += v.VisitCount
			if v.LastVisit > out[i].LastVisit {
				out[i].LastVisit = v.LastVisit
			}
			continue
		}
		out = append(out, v)
	}
	s.mu.Unlock()
	return out
}

// Clear empties the progress log and the visit counters everywhere: the
// durable backend and the in-memory fallback. It is idempotent and safe to
// call when already empty.
func (s *Store) Clear(ctx context.Context) {
	if err := s.router.Clear(ctx, store.CollectionProgress, store.CollectionVisited); err != nil {
		s.log.Debug("durable progress clear failed", zap.Error(err))
	}

	s.mu.Lock()
	s.memProgress = nil
	s.memVisited = make(map[string]VisitedSection)
	s.memOrder = nil
	s.mu.Unlock()
}
