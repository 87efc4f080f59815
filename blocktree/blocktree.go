// Package blocktree builds and reads the Merkle block-trees used to
// represent one file's content as a single root hash. Leaves hold
// compressed chunk bytes; branches hold a flat run of their children's
// 32-byte hashes. The design generalizes this system's storage
// lineage's MerkleHash/SplitAndStore pair (storage/split.go) from a
// fixed-depth "split hashes until one remains" loop into a streaming
// builder that never buffers more than one bounded level-stack in
// memory.
package blocktree

import (
	"context"
	"fmt"

	"github.com/cubist-project/cubist/chunk"
	"github.com/cubist-project/cubist/cubisterr"
	"github.com/cubist-project/cubist/hashcodec"
	"github.com/cubist-project/cubist/store"
)

// MaxFanout bounds how many child hashes a branch node may hold before
// it seals. At 32 bytes per hash, 32768 children makes a branch's raw
// payload exactly 1 MiB.
const MaxFanout = 32768

// PutFunc stores a leaf or branch's raw bytes under its content hash,
// deduplicating on the caller's behalf (skip the write if the hash
// already has a positive refcount). Builder only needs the hash, so an
// implementation may return before the write completes (ops hands the
// write to an ioengine.Pool); such a caller waits for its writes before
// committing anything that references the tree. Builder calls this
// once per node it seals.
type PutFunc func(ctx context.Context, h hashcodec.Hash, raw []byte) error

// Builder constructs a block-tree bottom-up while chunks stream in. It
// keeps one slice of pending hashes per level; a level seals into a
// branch node (and contributes one hash to the level above) only when
// appending the next hash would exceed MaxFanout, resolving the
// branch-sealing tie-break by never producing an oversized branch.
type Builder struct {
	put    PutFunc
	levels [][]hashcodec.Hash
	// leaves and total are running totals surfaced for progress
	// reporting and stats output.
	leaves int
	total  int64
}

// NewBuilder returns a Builder that writes nodes through put.
func NewBuilder(put PutFunc) *Builder {
	return &Builder{put: put}
}

// AddChunk seals c as a leaf node. The hash is computed on the
// original, uncompressed chunk bytes so identical content dedups
// regardless of the compression level used at write time; readers
// verify decompressed content against this same hash.
func (b *Builder) AddChunk(ctx context.Context, c chunk.Chunk, level int) error {
	raw := c.Buf[:c.N]
	h := hashcodec.Sum(raw)
	compressed := hashcodec.Compress(raw, level)
	if err := b.put(ctx, h, compressed); err != nil {
		return fmt.Errorf("writing leaf %s: %w", h, err)
	}
	b.leaves++
	b.total += int64(c.N)
	return b.push(ctx, 0, h)
}

// push appends h to levelIdx's pending hashes, sealing that level into
// a branch (and recursing to push the branch's hash into levelIdx+1)
// if the append would exceed MaxFanout.
func (b *Builder) push(ctx context.Context, levelIdx int, h hashcodec.Hash) error {
	for len(b.levels) <= levelIdx {
		b.levels = append(b.levels, nil)
	}
	if len(b.levels[levelIdx])+1 > MaxFanout {
		if err := b.seal(ctx, levelIdx); err != nil {
			return err
		}
	}
	b.levels[levelIdx] = append(b.levels[levelIdx], h)
	return nil
}

// seal flushes levelIdx's pending hashes into a branch node and pushes
// the branch's hash up to levelIdx+1.
func (b *Builder) seal(ctx context.Context, levelIdx int) error {
	hashes := b.levels[levelIdx]
	if len(hashes) == 0 {
		return nil
	}
	raw := make([]byte, 0, len(hashes)*hashcodec.Size)
	for _, h := range hashes {
		raw = append(raw, h[:]...)
	}
	branchHash := hashcodec.Sum(raw)
	if err := b.put(ctx, branchHash, raw); err != nil {
		return fmt.Errorf("writing branch at level %d: %w", levelIdx+1, err)
	}
	b.levels[levelIdx] = b.levels[levelIdx][:0]
	return b.push(ctx, levelIdx+1, branchHash)
}

// Finish seals every non-empty level bottom-up and returns the single
// remaining root hash. An input with zero chunks produces no root
// (ok is false); an input with exactly one chunk returns that leaf's
// hash directly as the root, with no branch node ever written.
func (b *Builder) Finish(ctx context.Context) (root hashcodec.Hash, ok bool, err error) {
	if b.leaves == 0 {
		return hashcodec.Hash{}, false, nil
	}

	for levelIdx := 0; levelIdx < len(b.levels); levelIdx++ {
		// A level with exactly one pending hash and nothing above it is
		// already the root; don't wrap it in a redundant branch.
		if levelIdx == len(b.levels)-1 && len(b.levels[levelIdx]) == 1 {
			return b.levels[levelIdx][0], true, nil
		}
		if err := b.seal(ctx, levelIdx); err != nil {
			return hashcodec.Hash{}, false, err
		}
	}
	return hashcodec.Hash{}, false, fmt.Errorf("%w: block-tree builder did not converge to a single root", cubisterr.ErrInconsistency)
}

// Stats returns the number of leaf chunks and total uncompressed bytes
// written so far, for the stats reporting the ioengine surfaces.
func (b *Builder) Stats() (leaves int, totalBytes int64) {
	return b.leaves, b.total
}

// Reader walks a root hash back into the original byte stream,
// generalizing NewHashesReader/MerkleHash.NewReader from a
// fixed-recursion-count loop into a depth-first walk driven by node
// content rather than a stored level count, since branches here are
// self-describing (their size in bytes is a multiple of 32) rather
// than tagged with an explicit level.
type Reader struct {
	get func(ctx context.Context, h hashcodec.Hash) ([]byte, error)
}

// NewReader returns a Reader that fetches node bytes through get.
func NewReader(get func(ctx context.Context, h hashcodec.Hash) ([]byte, error)) *Reader {
	return &Reader{get: get}
}

// WriteTo streams the decompressed content addressed by root to w,
// visiting leaves in left-to-right order. depth bounds recursion so a
// corrupt cyclic tree (which should be impossible for content-addressed
// nodes, but a maliciously crafted store could still serve one) can't
// spin forever; 64 levels comfortably exceeds any tree MaxFanout could
// produce for realistic file sizes.
func (r *Reader) WriteTo(ctx context.Context, root hashcodec.Hash, write func([]byte) error) error {
	return r.walk(ctx, root, 64, write)
}

func (r *Reader) walk(ctx context.Context, h hashcodec.Hash, depthBudget int, write func([]byte) error) error {
	if depthBudget <= 0 {
		return fmt.Errorf("%w: block-tree exceeds maximum depth", cubisterr.ErrCorruptArchive)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	raw, err := r.get(ctx, h)
	if err != nil {
		return fmt.Errorf("reading node %s: %w", h, err)
	}

	if isBranch(raw) {
		if hashcodec.Sum(raw) != h {
			return fmt.Errorf("%w: branch %s content does not match its hash", cubisterr.ErrHashMismatch, h)
		}
		children, err := splitHashes(raw)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := r.walk(ctx, child, depthBudget-1, write); err != nil {
				return err
			}
		}
		return nil
	}

	content, err := hashcodec.Decompress(raw)
	if err != nil {
		return fmt.Errorf("leaf %s: %w", h, err)
	}
	if hashcodec.Sum(content) != h {
		return fmt.Errorf("%w: leaf %s content does not match its hash", cubisterr.ErrHashMismatch, h)
	}
	return write(content)
}

// isBranch distinguishes branch payloads (a flat run of 32-byte
// hashes) from leaf payloads (a Zstd frame) by magic number: every
// Zstd frame starts with the four-byte magic 0x28 0xB5 0x2F 0xFD,
// which by construction can never equal a multiple of 32 bytes of
// concatenated hashes for any tree this builder produces, since a
// single hash is exactly 32 bytes and a Zstd frame is never that
// short. To make the distinction robust regardless of size
// coincidences, branches are additionally required to be a multiple
// of 32 bytes.
func isBranch(raw []byte) bool {
	if len(raw) == 0 || len(raw)%hashcodec.Size != 0 {
		return false
	}
	if len(raw) >= 4 && raw[0] == 0x28 && raw[1] == 0xB5 && raw[2] == 0x2F && raw[3] == 0xFD {
		return false
	}
	return true
}

func splitHashes(raw []byte) ([]hashcodec.Hash, error) {
	if len(raw)%hashcodec.Size != 0 {
		return nil, fmt.Errorf("%w: branch payload is not a multiple of hash size", cubisterr.ErrCorruptArchive)
	}
	n := len(raw) / hashcodec.Size
	out := make([]hashcodec.Hash, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], raw[i*hashcodec.Size:(i+1)*hashcodec.Size])
	}
	return out, nil
}

// StoreBackedPut adapts a store.Backend and refcount-aware dedup check
// into a PutFunc: skip the write when exists already reports the hash
// present, otherwise PutIfAbsent under the appropriate key prefix.
func StoreBackedPut(backend store.Backend, exists func(hashcodec.Hash) bool, prefix string) PutFunc {
	return func(ctx context.Context, h hashcodec.Hash, raw []byte) error {
		if exists(h) {
			return nil
		}
		_, err := backend.PutIfAbsent(ctx, prefix+h.String(), raw)
		return err
	}
}
