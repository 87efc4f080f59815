// Package ioengine provides the bounded-concurrency worker pool that
// drives every operation touching the object store, plus a
// store.Backend decorator implementing dry-run and transient
// (rollback-on-failure) execution modes. The pool generalizes this
// system's backup command's parallelContext (a sync.WaitGroup plus a
// buffered-channel semaphore, cmd/bk/backup.go's restoreDir/restoreFile
// pair) from a single fixed-purpose restore walk into a
// general-purpose job queue any operation can submit work to.
package ioengine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cubist-project/cubist/cubisterr"
)

// DefaultConcurrency is the job limit New uses for concurrency <= 0,
// and the default value of cmd/cubist's --tasks flag.
const DefaultConcurrency = 8

// Job is one unit of work submitted to a Pool.
type Job func(ctx context.Context) error

// Pool runs submitted Jobs with bounded concurrency, cancelling
// outstanding and future jobs on the first non-cancellation error.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	firstErr error
}

// New returns a Pool bounded to concurrency simultaneous jobs, derived
// from parent for cancellation. concurrency <= 0 uses DefaultConcurrency.
func New(parent context.Context, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(parent)
	return &Pool{
		sem:    make(chan struct{}, concurrency),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go blocks until a concurrency slot is free, then runs job on its own
// goroutine, so jobs take slots in submission order and a producer
// that submits faster than jobs finish is held back. If the pool has
// been cancelled, job is skipped and never runs.
func (p *Pool) Go(job Job) {
	select {
	case p.sem <- struct{}{}:
	case <-p.ctx.Done():
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()

		if p.ctx.Err() != nil {
			return
		}

		if err := job(p.ctx); err != nil {
			p.fail(err)
		}
	}()
}

func (p *Pool) fail(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, cubisterr.ErrCancelled) {
		// A job observing our own cancellation is not itself a failure;
		// only the error that triggered cancellation should be reported.
		return
	}
	p.mu.Lock()
	if p.firstErr == nil {
		p.firstErr = err
		p.cancel()
	}
	p.mu.Unlock()
}

// Wait blocks until every submitted Job has returned, then reports the
// first non-cancellation error encountered, if any.
func (p *Pool) Wait() error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.firstErr != nil {
		return fmt.Errorf("operation failed: %w", p.firstErr)
	}
	return nil
}

// Context returns the pool's derived context, cancelled once a job
// fails or the parent is cancelled. Jobs that need to check for
// cooperative cancellation between suspension points read this.
func (p *Pool) Context() context.Context {
	return p.ctx
}
