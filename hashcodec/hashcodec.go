// Package hashcodec provides the two primitives every other cubist
// package builds on: a 256-bit content hash (BLAKE3) and a Zstandard
// codec for leaf payloads. The hash can be computed incrementally
// through Hasher; Compress and Decompress work on whole buffers.
package hashcodec

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/cubist-project/cubist/cubisterr"
)

// Size is the number of bytes in a Hash.
const Size = 32

// Hash is a 256-bit content hash, compared and ordered byte-for-byte.
type Hash [Size]byte

// String renders h as lowercase hex, the form used in object keys
// (blocks/<hex-hash>).
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero value, used to mean "no root"
// for an empty file's block tree.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// FromHex parses the 64-character hex encoding used in object keys.
func FromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != Size {
		return Hash{}, fmt.Errorf("%w: invalid hash %q", cubisterr.ErrCorruptBlock, s)
	}
	copy(h[:], b)
	return h, nil
}

// Hasher computes a Hash incrementally.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher returns a Hasher ready to accept Write calls.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum returns the hash of everything written so far without resetting
// the Hasher's state.
func (h *Hasher) Sum() Hash {
	var out Hash
	sum := h.h.Sum(nil)
	copy(out[:], sum)
	return out
}

// Sum computes the hash of b in one call.
func Sum(b []byte) Hash {
	h := NewHasher()
	_, _ = h.Write(b)
	return h.Sum()
}

// encoders and decoders are pooled since constructing a zstd.Encoder /
// zstd.Decoder is not free; the same tradeoff the gzip writer/reader
// pool in this system's storage lineage makes for its compressed
// backend.
var encoderPools sync.Map // level (int) -> *sync.Pool of *zstd.Encoder

func encoderPool(level int) *sync.Pool {
	if p, ok := encoderPools.Load(level); ok {
		return p.(*sync.Pool)
	}
	p := &sync.Pool{
		New: func() interface{} {
			enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(toEncoderLevel(level)))
			if err != nil {
				panic(fmt.Sprintf("hashcodec: failed to create zstd encoder: %v", err))
			}
			return enc
		},
	}
	actual, _ := encoderPools.LoadOrStore(level, p)
	return actual.(*sync.Pool)
}

var decoderPool = sync.Pool{
	New: func() interface{} {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(fmt.Sprintf("hashcodec: failed to create zstd decoder: %v", err))
		}
		return dec
	},
}

// DefaultLevel is the default Zstandard compression level on the 1-19
// scale exposed to callers (range 1-19, default 3).
const DefaultLevel = 3

// toEncoderLevel maps the 1-19 scale callers configure onto
// klauspost/compress/zstd's four-valued EncoderLevel enum
// (SpeedFastest=1 .. SpeedBestCompression=4). zstd.NewWriter panics on
// any EncoderLevel outside that range, so out-of-range input is
// clamped to [1, 19] first.
func toEncoderLevel(level int) zstd.EncoderLevel {
	if level < 1 {
		level = 1
	}
	if level > 19 {
		level = 19
	}
	switch {
	case level <= 2:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 11:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Compress returns the Zstandard-compressed encoding of b at the given
// level, on the 1-19 scale documented for DefaultLevel. Out-of-range
// values are clamped rather than passed straight to the underlying
// codec, which only understands four speed presets.
func Compress(b []byte, level int) []byte {
	enc := encoderPool(level).Get().(*zstd.Encoder)
	defer encoderPool(level).Put(enc)
	return enc.EncodeAll(b, make([]byte, 0, len(b)))
}

// Decompress reverses Compress, failing with ErrCorruptBlock if the
// payload is not valid Zstd.
func Decompress(b []byte) ([]byte, error) {
	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)
	out, err := dec.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cubisterr.ErrCorruptBlock, err)
	}
	return out, nil
}
