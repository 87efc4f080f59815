package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cubist-project/cubist/cubisterr"
	"github.com/cubist-project/cubist/hashcodec"
	"github.com/cubist-project/cubist/store"
)

// IndexEntry records one archive's name and creation time as summarized
// by metadata/archives. ops.Archives does not read the index; it lists
// archives/ and reads each archive object.
type IndexEntry struct {
	Name      string
	CreatedAt time.Time
}

// Index is the in-memory form of metadata/archives, mirroring
// refcount.Map's own load-mutate-flush shape: loaded by Backup after it
// commits an archive (and by Delete after it removes archives), changed
// in memory, then written back whole.
type Index struct {
	entries map[string]IndexEntry
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{entries: make(map[string]IndexEntry)}
}

// wireIndexEntry is the on-disk shape of one Index entry.
type wireIndexEntry struct {
	Name      string `cbor:"n"`
	CreatedAt int64  `cbor:"t"`
}

// LoadIndex fetches and decodes metadata/archives. A missing object is
// always treated as an empty index: unlike metadata/blocks, there is no
// blocks/ prefix to cross-check against, and an index that has never
// been written is indistinguishable from a bucket with no archives yet.
func LoadIndex(ctx context.Context, backend store.Backend) (*Index, error) {
	raw, err := backend.Get(ctx, store.MetadataArchive)
	if err != nil {
		if errors.Is(err, cubisterr.ErrNotFound) {
			return NewIndex(), nil
		}
		return nil, fmt.Errorf("loading archive index: %w", err)
	}

	payload, err := hashcodec.Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("decompressing archive index: %w", err)
	}

	var wire []wireIndexEntry
	if err := cbor.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: decoding archive index: %v", cubisterr.ErrCorruptArchive, err)
	}

	idx := NewIndex()
	for _, e := range wire {
		idx.entries[e.Name] = IndexEntry{Name: e.Name, CreatedAt: time.Unix(0, e.CreatedAt).UTC()}
	}
	return idx, nil
}

// Add records name as committed at createdAt, overwriting any prior
// entry of the same name -- an archive name is only reused after the
// original was deleted, so the new entry is authoritative.
func (idx *Index) Add(name string, createdAt time.Time) {
	idx.entries[name] = IndexEntry{Name: name, CreatedAt: createdAt}
}

// Remove drops name from the index, called when an archive is deleted
// so metadata/archives never advertises an archive object that no
// longer exists.
func (idx *Index) Remove(name string) {
	delete(idx.entries, name)
}

// Entries returns every indexed archive, most recent first.
func (idx *Index) Entries() []IndexEntry {
	out := make([]IndexEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Flush encodes the index as CBOR, compresses it, and writes it to
// metadata/archives, unconditionally overwriting whatever was there.
// Callers commit the archive object itself before calling Flush, the
// same ordering refcount.Map.Flush relies on for metadata/blocks.
func (idx *Index) Flush(ctx context.Context, backend store.Backend) error {
	wire := make([]wireIndexEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		wire = append(wire, wireIndexEntry{Name: e.Name, CreatedAt: e.CreatedAt.UnixNano()})
	}

	opts, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return fmt.Errorf("building cbor encoder: %w", err)
	}
	payload, err := opts.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encoding archive index: %w", err)
	}

	compressed := hashcodec.Compress(payload, hashcodec.DefaultLevel)
	if err := backend.Put(ctx, store.MetadataArchive, compressed); err != nil {
		return fmt.Errorf("writing archive index: %w", err)
	}
	return nil
}
