package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRouter_PrefersTransactional(t *testing.T) {
	r := OpenRouter(t.TempDir(), nil)
	defer r.Close()

	if got := r.State(); got != TransactionalAvailable {
		t.Fatalf("state = %v, want transactional", got)
	}
	if _, ok := r.backend.(*Bolt); !ok {
		t.Fatalf("backend = %T, want *Bolt", r.backend)
	}
}

func TestRouter_FallsBackToFlat(t *testing.T) {
	dir := t.TempDir()
	// A directory where the bolt file should live makes the open fail.
	if err := os.Mkdir(filepath.Join(dir, boltFileName), 0o700); err != nil {
		t.Fatalf("block bolt path: %v", err)
	}

	r := OpenRouter(dir, nil)
	defer r.Close()

	if got := r.State(); got != FlatOnly {
		t.Fatalf("state = %v, want flat", got)
	}

	// The uniform API works regardless of the backend.
	ctx := t.Context()
	err := r.WithCollection(ctx, CollectionVisited, ReadWrite, func(c Collection) error {
		return c.Put("intro", []byte(`"v"`))
	})
	if err != nil {
		t.Fatalf("put through degraded router: %v", err)
	}
	err = r.WithCollection(ctx, CollectionVisited, ReadOnly, func(c Collection) error {
		if _, ok, _ := c.Get("intro"); !ok {
			t.Fatal("expected record through degraded router")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("get through degraded router: %v", err)
	}
}

func TestRouter_UnavailableWithoutDataDir(t *testing.T) {
	r := OpenRouter("", nil)
	defer r.Close()

	if got := r.State(); got != Unavailable {
		t.Fatalf("state = %v, want unavailable", got)
	}
	err := r.WithCollection(t.Context(), CollectionProgress, ReadOnly, func(Collection) error {
		return nil
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestRouter_ClearEmptiesCollections(t *testing.T) {
	r := OpenRouter(t.TempDir(), nil)
	defer r.Close()
	ctx := t.Context()

	err := r.WithCollection(ctx, CollectionProgress, ReadWrite, func(c Collection) error {
		_, err := c.Insert([]byte(`"v"`))
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := r.Clear(ctx, Collections...); err != nil {
		t.Fatalf("clear: %v", err)
	}
	// Clearing again is a no-op.
	if err := r.Clear(ctx, Collections...); err != nil {
		t.Fatalf("second clear: %v", err)
	}

	err = r.WithCollection(ctx, CollectionProgress, ReadOnly, func(c Collection) error {
		return c.ForEach(func(string, []byte) error {
			t.Fatal("collection must be empty after clear")
			return nil
		})
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestRouter_ClearRemovesStaleFlatFile(t *testing.T) {
	dir := t.TempDir()
	// Simulate a flat file left over from an earlier degraded session.
	flat, err := OpenFlat(filepath.Join(dir, flatFileName), Collections...)
	if err != nil {
		t.Fatalf("seed flat file: %v", err)
	}
	_ = flat.Close()

	r := OpenRouter(dir, nil)
	defer r.Close()
	if r.State() != TransactionalAvailable {
		t.Fatalf("state = %v, want transactional", r.State())
	}

	if err := r.Clear(t.Context(), Collections...); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, flatFileName)); !os.IsNotExist(err) {
		t.Fatal("stale flat file must be removed by clear")
	}
}
