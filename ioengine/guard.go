package ioengine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cubist-project/cubist/cubisterr"
	"github.com/cubist-project/cubist/store"
)

// Mode selects a GuardedBackend's write behavior.
type Mode int

const (
	// ModeNormal passes every call straight through to the underlying
	// Backend.
	ModeNormal Mode = iota
	// ModeDryRun simulates writes without touching the underlying
	// Backend: PutIfAbsent writes nothing and reports created only when
	// the real backend lacks the key, Put is a no-op, and Delete writes
	// nothing but still reports ErrNotFound for a missing key. Reads
	// still hit the real backend, so an
	// operation sees the bucket's actual current state.
	ModeDryRun
	// ModeTransient performs every write for real but records enough
	// to undo it, so a failed operation can restore the bucket to its
	// pre-run state via Rollback.
	ModeTransient
)

// undoAction reverses one write. Applied in reverse order by Rollback.
type undoAction struct {
	// key is deleted if hadPrevious is false, otherwise restored to
	// prevValue.
	key         string
	hadPrevious bool
	prevValue   []byte
}

// GuardedBackend wraps a store.Backend to support dry-run and
// transient execution, generalizing a plain pass-through Backend into
// one with an undo log: a dry run writes nothing, and a transient run's
// writes are undone when its caller invokes Rollback.
type GuardedBackend struct {
	backend store.Backend
	mode    Mode

	mu   sync.Mutex
	undo []undoAction
}

// NewGuardedBackend wraps backend for the given mode. ModeDryRun and ModeTransient
// are mutually exclusive with each other by construction (Mode is a
// single value), but a caller combining both dry-run and transient
// flags at the CLI layer should reject that combination with
// cubisterr.ErrBadConfig before reaching here.
func NewGuardedBackend(backend store.Backend, mode Mode) *GuardedBackend {
	return &GuardedBackend{backend: backend, mode: mode}
}

// ValidateFlags rejects the combination of dry-run and transient: the
// two do not compose. Dry-run means "touch nothing"; transient means
// "touch everything but be ready to undo it"; a caller asking for both
// has a contradictory request.
func ValidateFlags(dryRun, transient bool) error {
	if dryRun && transient {
		return fmt.Errorf("%w: --dry-run and transient mode are mutually exclusive", cubisterr.ErrBadConfig)
	}
	return nil
}

func (g *GuardedBackend) Get(ctx context.Context, key string) ([]byte, error) {
	return g.backend.Get(ctx, key)
}

func (g *GuardedBackend) List(ctx context.Context, prefix string) (<-chan string, <-chan error) {
	return g.backend.List(ctx, prefix)
}

func (g *GuardedBackend) PutIfAbsent(ctx context.Context, key string, data []byte) (bool, error) {
	if g.mode == ModeDryRun {
		_, err := g.backend.Get(ctx, key)
		if err == nil {
			return false, nil
		}
		if errors.Is(err, cubisterr.ErrNotFound) {
			return true, nil
		}
		return false, err
	}

	created, err := g.backend.PutIfAbsent(ctx, key, data)
	if err != nil || !created || g.mode != ModeTransient {
		return created, err
	}
	g.record(undoAction{key: key, hadPrevious: false})
	return created, nil
}

func (g *GuardedBackend) Put(ctx context.Context, key string, data []byte) error {
	if g.mode == ModeDryRun {
		return nil
	}

	var prev []byte
	hadPrevious := false
	if g.mode == ModeTransient {
		if b, err := g.backend.Get(ctx, key); err == nil {
			prev, hadPrevious = b, true
		} else if !errors.Is(err, cubisterr.ErrNotFound) {
			return err
		}
	}

	if err := g.backend.Put(ctx, key, data); err != nil {
		return err
	}
	if g.mode == ModeTransient {
		g.record(undoAction{key: key, hadPrevious: hadPrevious, prevValue: prev})
	}
	return nil
}

func (g *GuardedBackend) Delete(ctx context.Context, key string) error {
	if g.mode == ModeDryRun {
		_, err := g.backend.Get(ctx, key)
		return err
	}

	var prev []byte
	if g.mode == ModeTransient {
		b, err := g.backend.Get(ctx, key)
		if err != nil {
			return err
		}
		prev = b
	}

	if err := g.backend.Delete(ctx, key); err != nil {
		return err
	}
	if g.mode == ModeTransient {
		g.record(undoAction{key: key, hadPrevious: true, prevValue: prev})
	}
	return nil
}

func (g *GuardedBackend) record(a undoAction) {
	g.mu.Lock()
	g.undo = append(g.undo, a)
	g.mu.Unlock()
}

// Rollback undoes every write recorded since construction, in reverse
// order, restoring the wrapped Backend to its pre-run state. It is
// idempotent: once the undo log has been applied it is cleared, so a
// second call is a no-op. Only meaningful in ModeTransient.
func (g *GuardedBackend) Rollback(ctx context.Context) error {
	g.mu.Lock()
	actions := g.undo
	g.undo = nil
	g.mu.Unlock()

	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		var err error
		if a.hadPrevious {
			err = g.backend.Put(ctx, a.key, a.prevValue)
		} else {
			err = g.backend.Delete(ctx, a.key)
			if errors.Is(err, cubisterr.ErrNotFound) {
				err = nil
			}
		}
		if err != nil {
			return fmt.Errorf("rolling back %s: %w", a.key, err)
		}
	}
	return nil
}
