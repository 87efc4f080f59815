// Package filetree walks a directory hierarchy into a single Node tree
// for backup, and restores a Node tree back onto disk. It generalizes
// this system's backup command's DirEntry/BackupRoot pair
// (cmd/bk/backup.go) from a Merkle-tree-of-serialized-entries design
// into a single self-contained tree that an archive stores whole, in
// one CBOR document rather than splitting it into its own block-tree.
package filetree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/cubist-project/cubist/hashcodec"
)

// Type distinguishes the three kinds of node this system backs up.
// Devices, sockets, and FIFOs are out of scope.
type Type uint8

const (
	TypeFile Type = iota
	TypeDir
	TypeSymlink
)

// Node is one file, directory, or symlink in a backed-up tree.
type Node struct {
	Name    string `cbor:"name"`
	Type    Type   `cbor:"type"`
	Ino     uint64 `cbor:"ino"`
	Mode    uint32 `cbor:"mode"`
	UID     uint32 `cbor:"uid"`
	GID     uint32 `cbor:"gid"`
	Size    int64  `cbor:"size"`
	MTimeNS int64  `cbor:"mtime"`
	CTimeNS int64  `cbor:"ctime"`
	ATimeNS int64  `cbor:"atime"`

	// Root is the block-tree root hash for a TypeFile's content. It is
	// the zero hash for empty files, matching hashcodec.Hash{}.IsZero().
	Root hashcodec.Hash `cbor:"root,omitempty"`

	// LinkTarget holds a TypeSymlink's target path.
	LinkTarget string `cbor:"link,omitempty"`

	// Children holds a TypeDir's entries, sorted lexicographically by
	// Name so two backups of an unchanged directory produce identical
	// CBOR bytes.
	Children []Node `cbor:"children,omitempty"`
}

// ChunkFileFunc chunks and stores path's content, returning its
// block-tree root. ok is false for a zero-length file, which stores no
// blocks and has no root. Implementations live in the ops package,
// which owns the chunker, block-tree builder, and refcount map that
// Walk itself has no reason to know about.
type ChunkFileFunc func(ctx context.Context, path string, fi os.FileInfo) (root hashcodec.Hash, ok bool, err error)

// WalkOptions configures a backup-direction Walk.
type WalkOptions struct {
	// Exclude lists substrings; any path containing one is skipped,
	// generalized from this system's isExcluded path-substring check.
	Exclude []string
	// ChunkFile stores a regular file's content and returns its root.
	ChunkFile ChunkFileFunc
	// OnError is called for a path that could not be backed up (e.g.
	// permission denied); Walk continues past it rather than failing
	// the whole run, matching this system's log-and-continue policy
	// for individual file failures.
	OnError func(path string, err error)
}

// hardlinkKey identifies a file by device and inode so multiple names
// for the same inode within one backup reuse a single block-tree root
// instead of re-chunking identical bytes.
type hardlinkKey struct {
	dev, ino uint64
}

// Walk backs up the directory tree rooted at path and returns its
// root Node. Individual file or subdirectory failures are reported
// through opts.OnError and otherwise skipped, rather than aborting the
// whole backup: a "log an error and keep going" policy for files that
// can't be read.
func Walk(ctx context.Context, path string, opts WalkOptions) (Node, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return Node{}, err
	}
	seen := make(map[hardlinkKey]hashcodec.Hash)
	n, err := walk(ctx, path, fi, opts, seen)
	if err != nil {
		return Node{}, err
	}
	n.Name = "/"
	return n, nil
}

func walk(ctx context.Context, path string, fi os.FileInfo, opts WalkOptions, seen map[hardlinkKey]hashcodec.Hash) (Node, error) {
	select {
	case <-ctx.Done():
		return Node{}, ctx.Err()
	default:
	}

	n := nodeFromInfo(fi)

	switch {
	case fi.IsDir():
		entries, err := os.ReadDir(path)
		if err != nil {
			return Node{}, err
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		sort.Strings(names)

		for _, name := range names {
			childPath := filepath.Join(path, name)
			if excluded(childPath, opts.Exclude) {
				continue
			}
			childInfo, err := os.Lstat(childPath)
			if err != nil {
				opts.OnError(childPath, err)
				continue
			}
			child, err := walk(ctx, childPath, childInfo, opts, seen)
			if err != nil {
				opts.OnError(childPath, err)
				continue
			}
			n.Children = append(n.Children, child)
		}

	case fi.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return Node{}, err
		}
		n.LinkTarget = target

	case fi.Mode().IsRegular():
		if fi.Size() == 0 {
			break
		}
		if key, ok := hardlinkKeyOf(fi); ok {
			if root, cached := seen[key]; cached {
				n.Root = root
				break
			}
			root, hasRoot, err := opts.ChunkFile(ctx, path, fi)
			if err != nil {
				return Node{}, err
			}
			if hasRoot {
				n.Root = root
				seen[key] = root
			}
			break
		}
		root, hasRoot, err := opts.ChunkFile(ctx, path, fi)
		if err != nil {
			return Node{}, err
		}
		if hasRoot {
			n.Root = root
		}

	default:
		return Node{}, fmt.Errorf("%s: unsupported file type %v", path, fi.Mode())
	}

	return n, nil
}

func excluded(path string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func nodeFromInfo(fi os.FileInfo) Node {
	n := Node{
		Name:    fi.Name(),
		Mode:    uint32(fi.Mode()),
		Size:    fi.Size(),
		MTimeNS: fi.ModTime().UnixNano(),
	}
	switch {
	case fi.IsDir():
		n.Type = TypeDir
	case fi.Mode()&os.ModeSymlink != 0:
		n.Type = TypeSymlink
	default:
		n.Type = TypeFile
	}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		n.Ino = st.Ino
		n.UID = st.Uid
		n.GID = st.Gid
		n.CTimeNS = time.Unix(int64(st.Ctim.Sec), int64(st.Ctim.Nsec)).UnixNano()
		n.ATimeNS = time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec)).UnixNano()
	}
	return n
}

func hardlinkKeyOf(fi os.FileInfo) (hardlinkKey, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok || st.Nlink < 2 {
		return hardlinkKey{}, false
	}
	return hardlinkKey{dev: uint64(st.Dev), ino: st.Ino}, true
}
