package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cubist-project/cubist/cubisterr"
)

func TestMemoryPutIfAbsent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	created, err := m.PutIfAbsent(ctx, "blocks/abc", []byte("data"))
	if err != nil || !created {
		t.Fatalf("first PutIfAbsent: created=%v err=%v", created, err)
	}

	created, err = m.PutIfAbsent(ctx, "blocks/abc", []byte("other data"))
	if err != nil || created {
		t.Fatalf("second PutIfAbsent: created=%v err=%v, want created=false", created, err)
	}

	got, err := m.Get(ctx, "blocks/abc")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "data" {
		t.Errorf("Get returned %q, want %q (PutIfAbsent must not overwrite)", got, "data")
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "missing")
	if !errors.Is(err, cubisterr.ErrNotFound) {
		t.Errorf("Get on missing key: err=%v, want ErrNotFound", err)
	}
}

func TestMemoryDeleteNotFound(t *testing.T) {
	m := NewMemory()
	err := m.Delete(context.Background(), "missing")
	if !errors.Is(err, cubisterr.ErrNotFound) {
		t.Errorf("Delete on missing key: err=%v, want ErrNotFound", err)
	}
}

func TestMemoryListPrefix(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, k := range []string{"blocks/a", "blocks/b", "archives/x"} {
		if _, err := m.PutIfAbsent(ctx, k, []byte("v")); err != nil {
			t.Fatal(err)
		}
	}

	keys, errs := m.List(ctx, "blocks/")
	var got []string
	for k := range keys {
		got = append(got, k)
	}
	if err, ok := <-errs; ok && err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("List(blocks/) returned %v, want 2 keys", got)
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "blocks/shared"
			_, _ = m.PutIfAbsent(ctx, key, []byte{byte(i)})
			_, _ = m.Get(ctx, key)
		}(i)
	}
	wg.Wait()
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestMemoryPutOverwrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Put(ctx, "metadata/blocks", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := m.Put(ctx, "metadata/blocks", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get(ctx, "metadata/blocks")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v2" {
		t.Errorf("Get = %q, want %q", got, "v2")
	}
}
