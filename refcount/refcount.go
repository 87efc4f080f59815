// Package refcount maintains the central hash -> reference-count map
// that makes deduplication observable: a block is safe to sweep only
// once every archive referencing it is gone. The bookkeeping mirrors
// the mark phase of this system's blob-store lineage's GC runner,
// generalized from a per-run live-set into a persistent counter map
// that survives across backup and cleanup operations.
package refcount

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/cubist-project/cubist/cubisterr"
	"github.com/cubist-project/cubist/hashcodec"
	"github.com/cubist-project/cubist/store"
)

// Map is a mutex-protected hash -> refcount table. Sharding is not
// required; a single mutex is kept unless a future benchmark shows
// contention.
type Map struct {
	mu     sync.Mutex
	counts map[hashcodec.Hash]uint64
}

// New returns an empty Map, used by Cleanup when rebuilding refcounts
// from scratch after a suspected inconsistency.
func New() *Map {
	return &Map{counts: make(map[hashcodec.Hash]uint64)}
}

// wireEntry is the on-disk representation of one map entry: cbor maps
// keyed by non-string types are awkward across implementations, so the
// hash is hex-encoded the same way it appears in object keys.
type wireEntry struct {
	Hash  string `cbor:"h"`
	Count uint64 `cbor:"c"`
}

// Load fetches and decodes metadata/blocks. If the object does not
// exist and allowMissing is true (set by a caller that is about to
// rebuild the map from scratch regardless, such as Cleanup), Load
// returns an empty Map without further checks. Otherwise a missing
// object only fails open when blocks/ itself is empty -- a genuinely
// fresh bucket -- and is an ErrInconsistency (metadata lost or never
// written despite live blocks) in every other case.
func Load(ctx context.Context, backend store.Backend, allowMissing bool) (*Map, error) {
	raw, err := backend.Get(ctx, store.MetadataBlocks)
	if err != nil {
		if !isErrNotFound(err) {
			return nil, fmt.Errorf("loading refcount map: %w", err)
		}
		if allowMissing {
			return New(), nil
		}
		hasBlocks, err := bucketHasBlocks(ctx, backend)
		if err != nil {
			return nil, fmt.Errorf("checking for existing blocks: %w", err)
		}
		if hasBlocks {
			return nil, fmt.Errorf("%w: metadata/blocks missing but blocks/ is not empty", cubisterr.ErrInconsistency)
		}
		return New(), nil
	}

	payload, err := hashcodec.Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("decompressing refcount map: %w", err)
	}

	var entries []wireEntry
	if err := cbor.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("%w: decoding refcount map: %v", cubisterr.ErrCorruptArchive, err)
	}

	m := New()
	for _, e := range entries {
		h, err := hashcodec.FromHex(e.Hash)
		if err != nil {
			return nil, fmt.Errorf("refcount map entry: %w", err)
		}
		m.counts[h] = e.Count
	}
	return m, nil
}

func isErrNotFound(err error) bool {
	return errors.Is(err, cubisterr.ErrNotFound)
}

// bucketHasBlocks reports whether blocks/ holds at least one object,
// used by Load to distinguish a genuinely fresh bucket (no metadata,
// no blocks, fine to start empty) from a corrupted one (no metadata,
// but blocks/ has live objects the map would otherwise silently
// forget). The listing context is cancelled as soon as one key is
// seen so List's producer goroutine exits without needing the whole
// prefix enumerated.
func bucketHasBlocks(ctx context.Context, backend store.Backend) (bool, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys, errs := backend.List(listCtx, store.BlockPrefix)
	has := false
	for range keys {
		has = true
		break
	}
	cancel()
	for range keys {
	}
	if err := <-errs; err != nil && !errors.Is(err, context.Canceled) {
		return false, err
	}
	return has, nil
}

// Exists reports whether h has a positive refcount.
func (m *Map) Exists(h hashcodec.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[h] > 0
}

// Increment adds one reference to h and returns the new count.
func (m *Map) Increment(h hashcodec.Hash) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[h]++
	return m.counts[h]
}

// Insert records a brand-new block with an initial refcount of 1. It
// is distinguished from Increment only for callers that want to assert
// the block was not already present; both are safe to call regardless.
func (m *Map) Insert(h hashcodec.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[h] = 1
}

// Touch atomically increments h's refcount if it already exists, or
// inserts it at 1 otherwise, and reports whether h was newly inserted.
// Callers that dispatch block writes to concurrent workers use this
// instead of a separate Exists/Insert pair to avoid a check-then-act
// race when two workers observe the same not-yet-registered hash for
// two chunks with identical content in the same file.
func (m *Map) Touch(h hashcodec.Hash) (isNew bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[h] > 0 {
		m.counts[h]++
		return false
	}
	m.counts[h] = 1
	return true
}

// IncrementBy adds delta references to h in one call, used by Cleanup
// to fold an archive's own recorded delta into the rebuilt map instead
// of visiting each block occurrence one at a time. A non-positive delta
// is a no-op; Archive.Delta never records one.
func (m *Map) IncrementBy(h hashcodec.Hash, delta int64) {
	if delta <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[h] += uint64(delta)
}

// Decrement removes one reference from h and reports whether the count
// reached zero. Decrementing a hash already at zero is a no-op that
// reports true, since a block with no references is eligible for sweep
// regardless of how it got there.
func (m *Map) Decrement(h hashcodec.Hash) (zero bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counts[h]
	if c <= 1 {
		delete(m.counts, h)
		return true
	}
	m.counts[h] = c - 1
	return false
}

// Len reports the number of hashes with a positive refcount.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counts)
}

// Snapshot returns every hash currently tracked, in no particular
// order.
func (m *Map) Snapshot() []hashcodec.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]hashcodec.Hash, 0, len(m.counts))
	for h := range m.counts {
		out = append(out, h)
	}
	return out
}

// Flush encodes the map as CBOR, compresses it, and writes it to
// metadata/blocks, unconditionally overwriting whatever was there.
// Callers are responsible for the ordering invariant that this
// happens strictly after the archive object it accounts for has been
// committed.
func (m *Map) Flush(ctx context.Context, backend store.Backend) error {
	m.mu.Lock()
	entries := make([]wireEntry, 0, len(m.counts))
	for h, c := range m.counts {
		entries = append(entries, wireEntry{Hash: h.String(), Count: c})
	}
	m.mu.Unlock()

	opts, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return fmt.Errorf("building cbor encoder: %w", err)
	}
	payload, err := opts.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding refcount map: %w", err)
	}

	compressed := hashcodec.Compress(payload, hashcodec.DefaultLevel)
	if err := backend.Put(ctx, store.MetadataBlocks, compressed); err != nil {
		return fmt.Errorf("writing refcount map: %w", err)
	}
	return nil
}
