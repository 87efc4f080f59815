// Package store abstracts the four verbs cubist needs from an
// S3-compatible object store: GET, PUT-if-absent, LIST-prefix, and
// DELETE (plus a plain overwriting PUT for metadata objects), following
// the storage.Backend interface this system's storage lineage exposes,
// generalized from a content-hash-keyed backend to an explicit
// string-key one since the refcount map -- not the backend -- is the
// dedup oracle here.
package store

import (
	"context"
)

// Backend is a store implementation safe for concurrent use by multiple
// goroutines.
type Backend interface {
	// Get returns the bytes stored at key, or a cubisterr.ErrNotFound
	// wrapping error if key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// PutIfAbsent stores data at key only if key does not already exist.
	// created reports whether this call actually wrote the object.
	PutIfAbsent(ctx context.Context, key string, data []byte) (created bool, err error)

	// Put stores data at key unconditionally, overwriting any existing
	// object. Used only for the two metadata objects, which are
	// rewritten whole on every mutating operation.
	Put(ctx context.Context, key string, data []byte) error

	// List returns every key under prefix as a lazy sequence. Both
	// channels close when listing completes or fails.
	List(ctx context.Context, prefix string) (<-chan string, <-chan error)

	// Delete removes key, or returns a cubisterr.ErrNotFound wrapping
	// error if it did not exist.
	Delete(ctx context.Context, key string) error
}

// Object key prefixes and layout. Any other key under the bucket is
// ignored by reads and untouched by writes.
const (
	ArchivePrefix   = "archives/"
	BlockPrefix     = "blocks/"
	MetadataArchive = "metadata/archives"
	MetadataBlocks  = "metadata/blocks"
)

// ArchiveKey returns the object key for a named archive.
func ArchiveKey(name string) string {
	return ArchivePrefix + name
}

// BlockKey returns the object key for a block with the given hex hash.
func BlockKey(hexHash string) string {
	return BlockPrefix + hexHash
}
