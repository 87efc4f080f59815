package archive

import (
	"context"
	"testing"
	"time"

	"github.com/cubist-project/cubist/store"
)

func TestLoadIndexMissingIsEmpty(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()

	idx, err := LoadIndex(ctx, backend)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Entries()) != 0 {
		t.Errorf("Entries() = %v, want empty", idx.Entries())
	}
}

func TestIndexAddFlushLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()

	idx := NewIndex()
	t1 := time.Unix(1754460000, 0).UTC()
	t2 := t1.Add(time.Hour)
	idx.Add("nightly-1", t1)
	idx.Add("nightly-2", t2)

	if err := idx.Flush(ctx, backend); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadIndex(ctx, backend)
	if err != nil {
		t.Fatal(err)
	}
	entries := loaded.Entries()
	if len(entries) != 2 {
		t.Fatalf("Entries() = %+v, want 2 entries", entries)
	}
	if entries[0].Name != "nightly-2" || entries[1].Name != "nightly-1" {
		t.Errorf("Entries() order = %+v, want most recent first", entries)
	}
}

func TestIndexRemove(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()

	idx := NewIndex()
	idx.Add("nightly-1", time.Unix(1754460000, 0).UTC())
	idx.Remove("nightly-1")
	if err := idx.Flush(ctx, backend); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadIndex(ctx, backend)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Entries()) != 0 {
		t.Errorf("Entries() after Remove+Flush = %v, want empty", loaded.Entries())
	}
}
