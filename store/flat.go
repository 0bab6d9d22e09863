package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// flatRecord is one keyed value inside a flat collection. Records are kept
// in insertion order so auto-keyed collections read back in write order.
type flatRecord struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Flat is a fallback [Backend] that keeps every collection in a single JSON
// document on disk: one well-known key per collection, each holding an array
// of records. It is the simple key-to-blob store used when the transactional
// backend cannot be opened.
type Flat struct {
	mu   sync.Mutex
	path string
	doc  map[string][]flatRecord
	seq  map[string]uint64
}

// OpenFlat loads (or creates) the flat document at path and ensures the
// given collections exist. A corrupt document is discarded and replaced by
// an empty one; values inside a parsable document are kept opaque, so
// record-level damage surfaces later as a per-record decode miss.
func OpenFlat(path string, collections ...string) (*Flat, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	f := &Flat{
		path: filepath.Clean(path),
		doc:  make(map[string][]flatRecord),
		seq:  make(map[string]uint64),
	}

	raw, err := os.ReadFile(f.path)
	switch {
	case os.IsNotExist(err):
		// First run.
	case err != nil:
		return nil, fmt.Errorf("read flat store: %w", err)
	default:
		if jsonErr := json.Unmarshal(raw, &f.doc); jsonErr != nil {
			f.doc = make(map[string][]flatRecord)
		}
	}

	for _, name := range collections {
		if _, ok := f.doc[name]; !ok {
			f.doc[name] = []flatRecord{}
		}
		f.seq[name] = maxSeq(f.doc[name])
	}

	// Prove the location is writable up front so the router can pick a
	// working backend once and never re-probe.
	if err := f.flushLocked(); err != nil {
		return nil, err
	}
	return f, nil
}

// maxSeq recovers the auto-increment counter from persisted record keys.
func maxSeq(records []flatRecord) uint64 {
	var top uint64
	for _, r := range records {
		if n, err := strconv.ParseUint(r.Key, 16, 64); err == nil && n > top {
			top = n
		}
	}
	return top
}

// WithCollection runs fn against a working copy of the named collection.
// For ReadWrite mode the copy replaces the live state and is flushed to disk
// only when fn returns nil and the flush succeeds, so a failed handler or a
// failed write leaves the previous state intact.
func (f *Flat) WithCollection(ctx context.Context, name string, mode Mode, fn func(Collection) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	records, ok := f.doc[name]
	if !ok {
		return fmt.Errorf("unknown collection %q", name)
	}

	col := &flatCollection{
		records: append([]flatRecord(nil), records...),
		seq:     f.seq[name],
		mode:    mode,
	}
	if err := fn(col); err != nil {
		return err
	}
	if mode != ReadWrite || !col.dirty {
		return nil
	}

	prevRecords, prevSeq := f.doc[name], f.seq[name]
	f.doc[name], f.seq[name] = col.records, col.seq
	if err := f.flushLocked(); err != nil {
		f.doc[name], f.seq[name] = prevRecords, prevSeq
		return err
	}
	return nil
}

// flushLocked writes the document atomically via a temp file rename.
// Callers must hold f.mu.
func (f *Flat) flushLocked() error {
	raw, err := json.Marshal(f.doc)
	if err != nil {
		return fmt.Errorf("encode flat store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".flat-*")
	if err != nil {
		return fmt.Errorf("write flat store: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write flat store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write flat store: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write flat store: %w", err)
	}
	return nil
}

// Close is a no-op: every committed transaction is already on disk.
func (f *Flat) Close() error { return nil }

type flatCollection struct {
	records []flatRecord
	seq     uint64
	mode    Mode
	dirty   bool
}

func (c *flatCollection) find(key string) int {
	for i, r := range c.records {
		if r.Key == key {
			return i
		}
	}
	return -1
}

func (c *flatCollection) Get(key string) ([]byte, bool, error) {
	i := c.find(key)
	if i < 0 {
		return nil, false, nil
	}
	out := make([]byte, len(c.records[i].Value))
	copy(out, c.records[i].Value)
	return out, true, nil
}

func (c *flatCollection) Put(key string, value []byte) error {
	if c.mode != ReadWrite {
		return ErrReadOnly
	}
	// Values embed directly into the JSON document, so they must parse.
	if !json.Valid(value) {
		return fmt.Errorf("value for %q is not valid JSON", key)
	}
	rec := flatRecord{Key: key, Value: append(json.RawMessage(nil), value...)}
	if i := c.find(key); i >= 0 {
		c.records[i] = rec
	} else {
		c.records = append(c.records, rec)
	}
	c.dirty = true
	return nil
}

func (c *flatCollection) Insert(value []byte) (uint64, error) {
	if c.mode != ReadWrite {
		return 0, ErrReadOnly
	}
	c.seq++
	if err := c.Put(seqKey(c.seq), value); err != nil {
		return 0, err
	}
	return c.seq, nil
}

func (c *flatCollection) Delete(key string) error {
	if c.mode != ReadWrite {
		return ErrReadOnly
	}
	if i := c.find(key); i >= 0 {
		c.records = append(c.records[:i], c.records[i+1:]...)
		c.dirty = true
	}
	return nil
}

func (c *flatCollection) ForEach(fn func(key string, value []byte) error) error {
	for _, r := range c.records {
		if err := fn(r.Key, r.Value); err != nil {
			return err
		}
	}
	return nil
}

func (c *flatCollection) Clear() error {
	if c.mode != ReadWrite {
		return ErrReadOnly
	}
	c.records = []flatRecord{}
	c.seq = 0
	c.dirty = true
	return nil
}
