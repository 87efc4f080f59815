// Package chunk splits a byte stream into content-defined chunks using
// FastCDC v2020, generalizing the channel-based splitter from this
// system's block-oriented storage lineage to a [target/2, target*4]
// sizing window.
package chunk

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jotfs/fastcdc-go"

	"github.com/cubist-project/cubist/cubisterr"
)

// Chunk is one content-defined chunk. Buf is owned by the pool inside
// the Chunker that produced it; callers must call ReturnBuffer on Buf
// once they are done reading Buf[:N].
type Chunk struct {
	Buf []byte
	N   int
}

// Config bounds chunk sizes. Target is the average chunk size in bytes;
// Min and Max default to a [target/2, target*4] window unless
// overridden explicitly.
type Config struct {
	Target int
	Min    int
	Max    int
}

// Normalize fills in Min/Max from Target when they are zero.
func (c Config) Normalize() Config {
	if c.Min == 0 {
		c.Min = c.Target / 2
	}
	if c.Max == 0 {
		c.Max = c.Target * 4
	}
	return c
}

// Chunker splits an io.Reader into a lazy, finite sequence of Chunks.
type Chunker struct {
	cfg  Config
	pool sync.Pool
}

// New returns a Chunker configured with cfg (after Normalize).
func New(cfg Config) *Chunker {
	cfg = cfg.Normalize()
	return &Chunker{
		cfg: cfg,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, cfg.Max)
			},
		},
	}
}

// Split streams r's bytes into chunks and errors over two channels.
// Both channels are closed when the input is exhausted or ctx is done.
// Identical byte runs (independent of surrounding context, per the
// content-defined cut rule) always split at the same points.
func (c *Chunker) Split(ctx context.Context, r io.Reader) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		cdc, err := fastcdc.NewChunker(r, fastcdc.Options{
			MinSize:     c.cfg.Min,
			AverageSize: c.cfg.Target,
			MaxSize:     c.cfg.Max,
		})
		if err != nil {
			errs <- fmt.Errorf("%w: %v", cubisterr.ErrBadConfig, err)
			return
		}

		for {
			select {
			case <-ctx.Done():
				errs <- fmt.Errorf("%w: %v", cubisterr.ErrCancelled, ctx.Err())
				return
			default:
			}

			next, err := cdc.Next()
			if err != nil {
				if err != io.EOF {
					errs <- fmt.Errorf("%w: %v", cubisterr.ErrIoError, err)
				}
				return
			}

			buf := c.pool.Get().([]byte)
			n := copy(buf, next.Data)

			select {
			case <-ctx.Done():
				c.pool.Put(buf)
				errs <- fmt.Errorf("%w: %v", cubisterr.ErrCancelled, ctx.Err())
				return
			case chunks <- Chunk{Buf: buf, N: n}:
			}
		}
	}()

	return chunks, errs
}

// ReturnBuffer returns a chunk buffer to the pool for reuse. Callers
// must not touch buf after returning it.
func (c *Chunker) ReturnBuffer(buf []byte) {
	c.pool.Put(buf)
}
