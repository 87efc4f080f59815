package hashcodec

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestSumMatchesHasher(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	h := NewHasher()
	if _, err := h.Write(data[:10]); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Write(data[10:]); err != nil {
		t.Fatal(err)
	}
	if got, want := h.Sum(), Sum(data); got != want {
		t.Errorf("incremental hash %s != one-shot hash %s", got, want)
	}
}

func TestHashHexRoundTrip(t *testing.T) {
	h := Sum([]byte("hello"))
	parsed, err := FromHex(h.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != h {
		t.Errorf("FromHex(%q) = %s, want %s", h.String(), parsed, h)
	}
}

func TestFromHexRejectsGarbage(t *testing.T) {
	if _, err := FromHex("not-hex"); err == nil {
		t.Error("expected error for non-hex string")
	}
	if _, err := FromHex("aabb"); err == nil {
		t.Error("expected error for short hash")
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	data := make([]byte, 64*1024)
	r.Read(data)

	for _, level := range []int{1, 3, 9, 19} {
		compressed := Compress(data, level)
		out, err := Decompress(compressed)
		if err != nil {
			t.Fatalf("level %d: %v", level, err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("level %d: round-trip mismatch", level)
		}
	}
}

func TestDecompressRejectsCorrupt(t *testing.T) {
	if _, err := Decompress([]byte("not zstd data at all")); err == nil {
		t.Error("expected ErrCorruptBlock for non-zstd payload")
	}
}

func TestZeroHash(t *testing.T) {
	var h Hash
	if !h.IsZero() {
		t.Error("zero-value Hash should report IsZero")
	}
	if Sum(nil).IsZero() {
		t.Error("hash of empty input should not be the zero value")
	}
}
