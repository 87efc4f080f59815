package filetree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cubist-project/cubist/hashcodec"
)

// RestoreFileFunc writes root's block-tree content to path. Owned by
// ops, which holds the block-tree Reader and store backend.
type RestoreFileFunc func(ctx context.Context, path string, root hashcodec.Hash) error

// Order selects Restore's traversal schedule. It affects only the
// observable order of GETs and file creations against the store and
// filesystem; the resulting tree on disk is identical either way.
type Order int

const (
	// OrderDepthFirst starts a directory's children as soon as the
	// directory exists, each subtree on its own goroutine. Sibling
	// subtrees run concurrently (bounded by Concurrency), so a subtree
	// is not necessarily finished before its next sibling starts.
	OrderDepthFirst Order = iota
	// OrderBreadthFirst restores every entry at depth D, waiting for
	// all of them, before starting any entry at depth D+1.
	OrderBreadthFirst
)

// RestoreOptions configures Restore.
type RestoreOptions struct {
	RestoreFile RestoreFileFunc
	// Concurrency bounds the number of files restored in parallel.
	// Zero uses a default of 16, matching this system's restore
	// parallelism limit.
	Concurrency int
	// Order selects depth-first (the default) or breadth-first
	// traversal. See Order.
	Order Order
	// BestEffortOwnership makes Chown failures (typically EPERM when
	// restoring as a non-root user) non-fatal, so restore still
	// succeeds for unprivileged users at the cost of not preserving
	// original ownership.
	BestEffortOwnership bool
	OnError             func(path string, err error)
}

// dirEntry pairs a filesystem path with the node restored there,
// recorded so a directory's mode and mtimes can be applied only after
// every entry underneath it has been written.
type dirEntry struct {
	path string
	n    Node
}

// Restore recreates n at destPath. Hardlinked source files were
// deduplicated to a shared block-tree root during Walk but are
// restored as independent regular files; this system does not
// reconstruct the original hardlink relationships, per the resolved
// open question that inode identity is a backup-time dedup signal
// only, not a preserved restore-time property.
func Restore(ctx context.Context, n Node, destPath string, opts RestoreOptions) error {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	if opts.Order == OrderBreadthFirst {
		return restoreBreadthFirst(ctx, n, destPath, opts)
	}
	return restoreDepthFirst(ctx, n, destPath, opts)
}

// restoreDepthFirst walks the tree with one goroutine per subtree,
// recursing into a directory's children as soon as the directory itself
// is created, so sibling subtrees are restored concurrently rather
// than one after another.
func restoreDepthFirst(ctx context.Context, n Node, destPath string, opts RestoreOptions) error {
	sem := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var dirsToFinish []dirEntry

	var walkRestore func(n Node, path string)
	walkRestore = func(n Node, path string) {
		defer wg.Done()
		sem <- struct{}{}
		defer func() { <-sem }()

		switch n.Type {
		case TypeDir:
			if err := os.MkdirAll(path, 0700); err != nil {
				opts.OnError(path, err)
				return
			}
			mu.Lock()
			dirsToFinish = append(dirsToFinish, dirEntry{path, n})
			mu.Unlock()

			for _, child := range n.Children {
				childPath := filepath.Join(path, child.Name)
				wg.Add(1)
				go walkRestore(child, childPath)
			}

		case TypeSymlink:
			if err := os.Symlink(n.LinkTarget, path); err != nil {
				opts.OnError(path, err)
			}

		case TypeFile:
			if err := restoreFile(ctx, n, path, opts); err != nil {
				opts.OnError(path, err)
				return
			}
			applyMetadata(path, n, opts)

		default:
			opts.OnError(path, fmt.Errorf("unknown node type %d", n.Type))
		}
	}

	wg.Add(1)
	go walkRestore(n, destPath)
	wg.Wait()

	finishDirs(dirsToFinish, opts)
	return nil
}

// restoreBreadthFirst restores the tree one depth level at a time: every
// entry at the current level is created (subject to opts.Concurrency)
// and its children queued, and the next level does not start until the
// whole current level has finished.
func restoreBreadthFirst(ctx context.Context, n Node, destPath string, opts RestoreOptions) error {
	sem := make(chan struct{}, opts.Concurrency)
	var dirsToFinish []dirEntry

	level := []dirEntry{{destPath, n}}
	for len(level) > 0 {
		var next []dirEntry
		var mu sync.Mutex
		var wg sync.WaitGroup

		for _, item := range level {
			item := item
			wg.Add(1)
			go func() {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				switch item.n.Type {
				case TypeDir:
					if err := os.MkdirAll(item.path, 0700); err != nil {
						opts.OnError(item.path, err)
						return
					}
					mu.Lock()
					dirsToFinish = append(dirsToFinish, item)
					for _, child := range item.n.Children {
						next = append(next, dirEntry{filepath.Join(item.path, child.Name), child})
					}
					mu.Unlock()

				case TypeSymlink:
					if err := os.Symlink(item.n.LinkTarget, item.path); err != nil {
						opts.OnError(item.path, err)
					}

				case TypeFile:
					if err := restoreFile(ctx, item.n, item.path, opts); err != nil {
						opts.OnError(item.path, err)
						return
					}
					applyMetadata(item.path, item.n, opts)

				default:
					opts.OnError(item.path, fmt.Errorf("unknown node type %d", item.n.Type))
				}
			}()
		}

		wg.Wait()
		level = next
	}

	finishDirs(dirsToFinish, opts)
	return nil
}

// finishDirs applies every queued directory's mode and mtimes last,
// order does not matter since restoring a file into a directory does
// not change that directory's own mtime once set, only the reverse
// (setting mtime, then later writing a file into it, would corrupt it)
// -- hence deferring every directory's metadata to this final pass
// after all writes have completed.
func finishDirs(dirs []dirEntry, opts RestoreOptions) {
	for _, d := range dirs {
		applyMetadata(d.path, d.n, opts)
	}
}

// restoreFile creates an empty file directly for a zero-length node
// (which has no block-tree root to read); otherwise it delegates to
// opts.RestoreFile, which owns creating and populating the file from
// the block-tree Reader.
func restoreFile(ctx context.Context, n Node, path string, opts RestoreOptions) error {
	if n.Size == 0 || n.Root.IsZero() {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		return f.Close()
	}
	return opts.RestoreFile(ctx, path, n.Root)
}

func applyMetadata(path string, n Node, opts RestoreOptions) {
	mode := os.FileMode(n.Mode) & os.ModePerm
	if err := os.Chmod(path, mode); err != nil {
		opts.OnError(path, err)
	}

	if err := os.Chown(path, int(n.UID), int(n.GID)); err != nil && !opts.BestEffortOwnership {
		opts.OnError(path, err)
	}

	mtime := time.Unix(0, n.MTimeNS)
	atime := mtime
	if n.ATimeNS != 0 {
		atime = time.Unix(0, n.ATimeNS)
	}
	if err := os.Chtimes(path, atime, mtime); err != nil {
		opts.OnError(path, err)
	}
}
