package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// Bolt is a transactional [Backend] backed by a bbolt database file. Each
// collection is one bucket; buckets are created idempotently at open.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) a bbolt database at path and ensures the given
// collections exist. A short open timeout keeps a locked file from blocking
// process start.
func OpenBolt(path string, collections ...string) (*Bolt, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create collection %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Bolt{db: db}, nil
}

// WithCollection runs fn against the named collection inside a single bbolt
// transaction. ReadWrite handlers commit only when fn returns nil.
func (b *Bolt) WithCollection(ctx context.Context, name string, mode Mode, fn func(Collection) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	run := b.db.View
	if mode == ReadWrite {
		run = b.db.Update
	}
	return run(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(name))
		if bucket == nil {
			return fmt.Errorf("unknown collection %q", name)
		}
		return fn(&boltCollection{bucket: bucket, mode: mode})
	})
}

// Close closes the underlying database.
func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

type boltCollection struct {
	bucket *bbolt.Bucket
	mode   Mode
}

// seqKey formats an auto-increment sequence so lexicographic bucket order
// matches insertion order.
func seqKey(seq uint64) string {
	return fmt.Sprintf("%016x", seq)
}

func (c *boltCollection) Get(key string) ([]byte, bool, error) {
	v := c.bucket.Get([]byte(key))
	if v == nil {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (c *boltCollection) Put(key string, value []byte) error {
	if c.mode != ReadWrite {
		return ErrReadOnly
	}
	return c.bucket.Put([]byte(key), value)
}

func (c *boltCollection) Insert(value []byte) (uint64, error) {
	if c.mode != ReadWrite {
		return 0, ErrReadOnly
	}
	seq, err := c.bucket.NextSequence()
	if err != nil {
		return 0, err
	}
	if err := c.bucket.Put([]byte(seqKey(seq)), value); err != nil {
		return 0, err
	}
	return seq, nil
}

func (c *boltCollection) Delete(key string) error {
	if c.mode != ReadWrite {
		return ErrReadOnly
	}
	return c.bucket.Delete([]byte(key))
}

func (c *boltCollection) ForEach(fn func(key string, value []byte) error) error {
	return c.bucket.ForEach(func(k, v []byte) error {
		return fn(string(k), v)
	})
}

func (c *boltCollection) Clear() error {
	if c.mode != ReadWrite {
		return ErrReadOnly
	}
	cur := c.bucket.Cursor()
	for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
		if err := cur.Delete(); err != nil {
			return err
		}
	}
	return c.bucket.SetSequence(0)
}
