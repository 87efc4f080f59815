package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cubist-project/cubist/cubisterr"
)

// Memory is an in-memory Backend, ported from this system's storage
// lineage's memory-backed test double: content is duplicated on write
// so callers can't mutate stored bytes out from under the store. It is
// mutex-protected so it can stand in for a real Backend from the
// parallel I/O engine's concurrent test paths.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory returns an empty in-memory Backend.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func dupe(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cubisterr.ErrNotFound, key)
	}
	return dupe(b), nil
}

func (m *Memory) PutIfAbsent(ctx context.Context, key string, data []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return false, nil
	}
	m.objects[key] = dupe(data)
	return true, nil
}

func (m *Memory) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = dupe(data)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%w: %s", cubisterr.ErrNotFound, key)
	}
	delete(m.objects, key)
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) (<-chan string, <-chan error) {
	keys := make(chan string)
	errs := make(chan error, 1)

	m.mu.RLock()
	var matched []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(matched)

	go func() {
		defer close(keys)
		defer close(errs)
		for _, k := range matched {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case keys <- k:
			}
		}
	}()

	return keys, errs
}

// Snapshot returns a copy of every key/value under prefix.
func (m *Memory) Snapshot(prefix string) map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out[k] = dupe(v)
		}
	}
	return out
}

// Len reports the number of stored objects, used by tests asserting the
// bucket is empty (dry-run) or unchanged (transient rollback).
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
