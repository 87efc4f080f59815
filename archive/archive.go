// Package archive defines the self-describing wire format for one
// backup's metadata object: a magic number and version byte, followed
// by a Zstd frame wrapping a CBOR-encoded document. The envelope
// generalizes this system's BackupRoot gob encoding
// (cmd/bk/backup.go) into a versioned, compressed, and
// language-agnostic format, since the archive itself -- unlike the
// gob-encoded DirEntry lists it replaces -- is meant to be readable by
// any implementation that knows the magic number, not just this one.
package archive

import (
	"bytes"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cubist-project/cubist/cubisterr"
	"github.com/cubist-project/cubist/filetree"
	"github.com/cubist-project/cubist/hashcodec"
)

// Magic identifies an archive object; Version allows the wire format
// to evolve without breaking readers of older archives.
var Magic = [4]byte{'C', 'B', 'A', '1'}

const Version = 1

// Archive is one backup's decoded metadata: the directory tree, when
// it was taken, and the refcount delta this backup contributed.
type Archive struct {
	Name      string
	CreatedAt time.Time
	Root      filetree.Node
	// Delta records how many times this archive's own block trees
	// reference each block hash, keyed by lowercase hex hash. Delete
	// and Cleanup sum every surviving archive's Delta to know when a
	// block's global refcount reaches zero, without re-walking and
	// re-fetching every block this archive touches.
	Delta map[string]int64
}

// wireArchive is the CBOR-encoded payload inside the envelope. Field
// names are short since they appear once per archive, not per file.
type wireArchive struct {
	Name      string           `cbor:"n"`
	CreatedAt int64            `cbor:"t"`
	Root      filetree.Node    `cbor:"r"`
	Delta     map[string]int64 `cbor:"d,omitempty"`
}

// Encode serializes a into the archive wire format.
func Encode(a Archive) ([]byte, error) {
	w := wireArchive{
		Name:      a.Name,
		CreatedAt: a.CreatedAt.UnixNano(),
		Root:      a.Root,
		Delta:     a.Delta,
	}

	opts, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("building cbor encoder: %w", err)
	}
	payload, err := opts.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding archive: %w", err)
	}

	compressed := hashcodec.Compress(payload, hashcodec.DefaultLevel)

	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.WriteByte(Version)
	buf.Write(compressed)
	return buf.Bytes(), nil
}

// Decode parses the archive wire format produced by Encode.
func Decode(raw []byte) (Archive, error) {
	if len(raw) < 5 {
		return Archive{}, fmt.Errorf("%w: archive too short", cubisterr.ErrCorruptArchive)
	}
	if [4]byte{raw[0], raw[1], raw[2], raw[3]} != Magic {
		return Archive{}, fmt.Errorf("%w: bad magic number", cubisterr.ErrCorruptArchive)
	}
	version := raw[4]
	if version != Version {
		return Archive{}, fmt.Errorf("%w: unsupported archive version %d", cubisterr.ErrCorruptArchive, version)
	}

	payload, err := hashcodec.Decompress(raw[5:])
	if err != nil {
		return Archive{}, fmt.Errorf("%w: decompressing archive: %v", cubisterr.ErrCorruptArchive, err)
	}

	var w wireArchive
	if err := cbor.Unmarshal(payload, &w); err != nil {
		return Archive{}, fmt.Errorf("%w: decoding archive: %v", cubisterr.ErrCorruptArchive, err)
	}

	return Archive{
		Name:      w.Name,
		CreatedAt: time.Unix(0, w.CreatedAt).UTC(),
		Root:      w.Root,
		Delta:     w.Delta,
	}, nil
}
