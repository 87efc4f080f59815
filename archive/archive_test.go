package archive

import (
	"errors"
	"testing"
	"time"

	"github.com/cubist-project/cubist/cubisterr"
	"github.com/cubist-project/cubist/filetree"
	"github.com/cubist-project/cubist/hashcodec"
)

func sampleArchive() Archive {
	return Archive{
		Name:      "nightly-2026-08-06",
		CreatedAt: time.Unix(1754460000, 0).UTC(),
		Root: filetree.Node{
			Name: "/",
			Type: filetree.TypeDir,
			Children: []filetree.Node{
				{Name: "a.txt", Type: filetree.TypeFile, Root: hashcodec.Sum([]byte("a"))},
			},
		},
		Delta: map[string]int64{hashcodec.Sum([]byte("a")).String(): 1},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a := sampleArchive()
	raw, err := Encode(a)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != a.Name {
		t.Errorf("Name = %q, want %q", got.Name, a.Name)
	}
	if !got.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, a.CreatedAt)
	}
	if len(got.Root.Children) != 1 || got.Root.Children[0].Name != "a.txt" {
		t.Errorf("Root.Children = %+v", got.Root.Children)
	}
	wantHash := hashcodec.Sum([]byte("a")).String()
	if got.Delta[wantHash] != 1 {
		t.Errorf("Delta[%s] = %d, want 1", wantHash, got.Delta[wantHash])
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	a := sampleArchive()
	r1, err := Encode(a)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := Encode(a)
	if err != nil {
		t.Fatal(err)
	}
	if string(r1) != string(r2) {
		t.Error("Encode should be deterministic for identical input")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	raw, err := Encode(sampleArchive())
	if err != nil {
		t.Fatal(err)
	}
	raw[0] = 'X'
	_, err = Decode(raw)
	if !errors.Is(err, cubisterr.ErrCorruptArchive) {
		t.Errorf("Decode with bad magic: err=%v, want ErrCorruptArchive", err)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	raw, err := Encode(sampleArchive())
	if err != nil {
		t.Fatal(err)
	}
	raw[4] = 99
	_, err = Decode(raw)
	if !errors.Is(err, cubisterr.ErrCorruptArchive) {
		t.Errorf("Decode with unknown version: err=%v, want ErrCorruptArchive", err)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	_, err := Decode([]byte{'C', 'B'})
	if !errors.Is(err, cubisterr.ErrCorruptArchive) {
		t.Errorf("Decode truncated input: err=%v, want ErrCorruptArchive", err)
	}
}
