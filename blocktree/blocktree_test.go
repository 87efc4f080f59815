package blocktree

import (
	"bytes"
	"context"
	"testing"

	"github.com/cubist-project/cubist/chunk"
	"github.com/cubist-project/cubist/hashcodec"
)

// memStore is a minimal hash-addressed store for exercising Builder
// and Reader without pulling in the store package's key-prefix
// conventions.
type memStore struct {
	objects map[hashcodec.Hash][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[hashcodec.Hash][]byte)}
}

func (m *memStore) put(ctx context.Context, h hashcodec.Hash, raw []byte) error {
	m.objects[h] = append([]byte(nil), raw...)
	return nil
}

func (m *memStore) get(ctx context.Context, h hashcodec.Hash) ([]byte, error) {
	return m.objects[h], nil
}

func chunksOf(data []byte, size int) []chunk.Chunk {
	var out []chunk.Chunk
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		buf := make([]byte, n)
		copy(buf, data[:n])
		out = append(out, chunk.Chunk{Buf: buf, N: n})
		data = data[n:]
	}
	return out
}

func roundTrip(t *testing.T, data []byte, chunkSize int) {
	t.Helper()
	ctx := context.Background()
	ms := newMemStore()
	b := NewBuilder(ms.put)

	for _, c := range chunksOf(data, chunkSize) {
		if err := b.AddChunk(ctx, c, 3); err != nil {
			t.Fatalf("AddChunk: %v", err)
		}
	}

	root, ok, err := b.Finish(ctx)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(data) == 0 {
		if ok {
			t.Fatal("Finish on empty input should report ok=false")
		}
		return
	}
	if !ok {
		t.Fatal("Finish on non-empty input should report ok=true")
	}

	r := NewReader(ms.get)
	var got bytes.Buffer
	err = r.WriteTo(ctx, root, func(p []byte) error {
		got.Write(p)
		return nil
	})
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if !bytes.Equal(got.Bytes(), data) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", got.Len(), len(data))
	}
}

func TestSingleLeafRoundTrip(t *testing.T) {
	roundTrip(t, bytes.Repeat([]byte{0}, 1024), 4096)
}

func TestMultiLeafRoundTrip(t *testing.T) {
	data := make([]byte, 500000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	roundTrip(t, data, 4096)
}

func TestEmptyInputHasNoRoot(t *testing.T) {
	roundTrip(t, nil, 4096)
}

func TestSingleLeafRootIsLeafHash(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	b := NewBuilder(ms.put)

	data := []byte("hello world")
	if err := b.AddChunk(ctx, chunk.Chunk{Buf: data, N: len(data)}, 3); err != nil {
		t.Fatal(err)
	}
	root, ok, err := b.Finish(ctx)
	if err != nil || !ok {
		t.Fatalf("Finish: ok=%v err=%v", ok, err)
	}
	if root != hashcodec.Sum(data) {
		t.Error("single-leaf root should equal the leaf's content hash directly, with no branch wrapping")
	}
	if len(ms.objects) != 1 {
		t.Errorf("expected exactly one stored node for a single leaf, got %d", len(ms.objects))
	}
}

func TestBranchSealsAtMaxFanout(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	b := NewBuilder(ms.put)

	// One more leaf than fits in a single branch forces a seal.
	for i := 0; i < MaxFanout+1; i++ {
		buf := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		if err := b.AddChunk(ctx, chunk.Chunk{Buf: buf, N: len(buf)}, 1); err != nil {
			t.Fatal(err)
		}
	}
	root, ok, err := b.Finish(ctx)
	if err != nil || !ok {
		t.Fatalf("Finish: ok=%v err=%v", ok, err)
	}

	// The root should be a branch containing two children: the sealed
	// first branch (with MaxFanout leaves) and the branch Finish seals
	// around the one remaining leaf.
	rootRaw := ms.objects[root]
	if !isBranch(rootRaw) {
		t.Fatal("root should be a branch once fanout is exceeded")
	}
	children, err := splitHashes(rootRaw)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Errorf("root branch has %d children, want 2", len(children))
	}
}

func TestHashMismatchDetected(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	b := NewBuilder(ms.put)
	data := []byte("some content")
	if err := b.AddChunk(ctx, chunk.Chunk{Buf: data, N: len(data)}, 3); err != nil {
		t.Fatal(err)
	}
	root, _, err := b.Finish(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the stored leaf bytes in place.
	ms.objects[root] = hashcodec.Compress([]byte("tampered content"), 3)

	r := NewReader(ms.get)
	err = r.WriteTo(ctx, root, func(p []byte) error { return nil })
	if err == nil {
		t.Fatal("expected hash mismatch error on tampered leaf")
	}
}
