package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTestFlat(t *testing.T) (*Flat, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	f, err := OpenFlat(path, Collections...)
	if err != nil {
		t.Fatalf("open flat: %v", err)
	}
	return f, path
}

func TestFlat_PutGetDelete(t *testing.T) {
	f, _ := openTestFlat(t)
	ctx := t.Context()

	err := f.WithCollection(ctx, CollectionVisited, ReadWrite, func(c Collection) error {
		return c.Put("intro", []byte(`{"n":1}`))
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	err = f.WithCollection(ctx, CollectionVisited, ReadWrite, func(c Collection) error {
		v, ok, err := c.Get("intro")
		if err != nil || !ok {
			t.Fatalf("get = %v %v", ok, err)
		}
		if string(v) != `{"n":1}` {
			t.Fatalf("got %s", v)
		}
		return c.Delete("intro")
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	err = f.WithCollection(ctx, CollectionVisited, ReadOnly, func(c Collection) error {
		if _, ok, _ := c.Get("intro"); ok {
			t.Fatal("expected miss after delete")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestFlat_SurvivesReopenAndKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ctx := t.Context()

	f1, err := OpenFlat(path, Collections...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = f1.WithCollection(ctx, CollectionProgress, ReadWrite, func(c Collection) error {
		for _, v := range []string{`"a"`, `"b"`, `"c"`} {
			if _, err := c.Insert([]byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	f2, err := OpenFlat(path, Collections...)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	var got []string
	err = f2.WithCollection(ctx, CollectionProgress, ReadOnly, func(c Collection) error {
		return c.ForEach(func(_ string, value []byte) error {
			got = append(got, string(value))
			return nil
		})
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}
	want := []string{`"a"`, `"b"`, `"c"`}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d = %s, want %s", i, got[i], want[i])
		}
	}

	// The sequence counter survives the reopen: the next insert does not
	// collide with existing keys.
	err = f2.WithCollection(ctx, CollectionProgress, ReadWrite, func(c Collection) error {
		seq, err := c.Insert([]byte(`"d"`))
		if err != nil {
			return err
		}
		if seq != 4 {
			t.Fatalf("seq = %d, want 4", seq)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert after reopen: %v", err)
	}
}

func TestFlat_FileFormat(t *testing.T) {
	f, path := openTestFlat(t)
	ctx := t.Context()

	err := f.WithCollection(ctx, CollectionProgress, ReadWrite, func(c Collection) error {
		_, err := c.Insert([]byte(`{"action":"viewed"}`))
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	err = f.WithCollection(ctx, CollectionVisited, ReadWrite, func(c Collection) error {
		return c.Put("intro", []byte(`{"section":"intro","visitCount":1}`))
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	// Two well-known keys, each an array, no duplicate visited keys.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var doc map[string][]struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("parse file: %v", err)
	}
	if len(doc[CollectionProgress]) != 1 || len(doc[CollectionVisited]) != 1 {
		t.Fatalf("unexpected document shape: %s", raw)
	}

	// Upserting the same visited key must not create a duplicate.
	err = f.WithCollection(ctx, CollectionVisited, ReadWrite, func(c Collection) error {
		return c.Put("intro", []byte(`{"section":"intro","visitCount":2}`))
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	raw, _ = os.ReadFile(path)
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("parse file: %v", err)
	}
	if n := len(doc[CollectionVisited]); n != 1 {
		t.Fatalf("visited has %d records after upsert, want 1", n)
	}
}

func TestFlat_FailedHandlerRollsBack(t *testing.T) {
	f, _ := openTestFlat(t)
	ctx := t.Context()

	boom := errors.New("boom")
	err := f.WithCollection(ctx, CollectionVisited, ReadWrite, func(c Collection) error {
		if err := c.Put("intro", []byte(`"v"`)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	err = f.WithCollection(ctx, CollectionVisited, ReadOnly, func(c Collection) error {
		if _, ok, _ := c.Get("intro"); ok {
			t.Fatal("failed handler must not commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestFlat_CorruptDocumentResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("plant corrupt file: %v", err)
	}

	f, err := OpenFlat(path, Collections...)
	if err != nil {
		t.Fatalf("open over corrupt file: %v", err)
	}
	err = f.WithCollection(t.Context(), CollectionProgress, ReadOnly, func(c Collection) error {
		return c.ForEach(func(string, []byte) error {
			t.Fatal("corrupt document must read as empty")
			return nil
		})
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}
}

func TestFlat_ReadOnlyRejectsWrites(t *testing.T) {
	f, _ := openTestFlat(t)

	err := f.WithCollection(t.Context(), CollectionProgress, ReadOnly, func(c Collection) error {
		_, err := c.Insert([]byte(`"v"`))
		return err
	})
	if err != ErrReadOnly {
		t.Fatalf("err = %v, want ErrReadOnly", err)
	}
}

func TestFlat_RejectsNonJSONValues(t *testing.T) {
	f, _ := openTestFlat(t)

	err := f.WithCollection(t.Context(), CollectionVisited, ReadWrite, func(c Collection) error {
		return c.Put("intro", []byte("not json"))
	})
	if err == nil {
		t.Fatal("expected rejection of a non-JSON value")
	}
}
