// Package ops wires together the chunker, block-tree builder, refcount
// map, filetree walker, and archive codec into the five top-level
// operations: backup, restore, delete, archives, and cleanup, plus a
// supplemented fsck. It plays the role this system's cmd/bk package
// plays for its own five verbs
// (savebits/restorebits/backup/restore/fsck), but as a library package
// rather than a main package, so cmd/cubist can stay a thin flag
// parser.
package ops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubist-project/cubist/archive"
	"github.com/cubist-project/cubist/blocktree"
	"github.com/cubist-project/cubist/chunk"
	"github.com/cubist-project/cubist/cubisterr"
	"github.com/cubist-project/cubist/filetree"
	"github.com/cubist-project/cubist/hashcodec"
	"github.com/cubist-project/cubist/ioengine"
	"github.com/cubist-project/cubist/refcount"
	"github.com/cubist-project/cubist/store"
	"github.com/cubist-project/cubist/util"
)

// mediaExtensions lists file extensions unlikely to benefit from
// content-defined dedup across versions (already-compressed or binary
// media formats), using the same extension list this system's backup
// command used to widen its split size for such files.
var mediaExtensions = map[string]bool{
	"arw": true, "avi": true, "flv": true, "gif": true, "gz": true,
	"jpeg": true, "jpg": true, "mkv": true, "mov": true, "mp4": true,
	"mpeg": true, "mpg": true, "nef": true, "png": true, "raw": true,
	"wmv": true, "zip": true,
}

// Config bundles the parameters shared by every operation.
type Config struct {
	Backend        store.Backend
	Log            *util.Logger
	Concurrency    int
	ChunkTarget    int // average chunk size in bytes, default 1 MiB / 16 = 65536
	MediaChunkMult int // multiplier applied to ChunkTarget for media files, default 4
	CompressLevel  int
	Exclude        []string
	DryRun         bool
	Transient      bool
	// RestoreOrder selects Restore's traversal schedule; the zero value
	// is filetree.OrderDepthFirst.
	RestoreOrder filetree.Order
}

func (c Config) normalize() Config {
	if c.ChunkTarget == 0 {
		c.ChunkTarget = 1 << 16
	}
	if c.MediaChunkMult == 0 {
		c.MediaChunkMult = 4
	}
	if c.CompressLevel == 0 {
		c.CompressLevel = hashcodec.DefaultLevel
	}
	if c.CompressLevel < 1 {
		c.CompressLevel = 1
	}
	if c.CompressLevel > 19 {
		c.CompressLevel = 19
	}
	if c.Concurrency == 0 {
		c.Concurrency = ioengine.DefaultConcurrency
	}
	return c
}

func (c Config) guardedBackend() *ioengine.GuardedBackend {
	mode := ioengine.ModeNormal
	switch {
	case c.DryRun:
		mode = ioengine.ModeDryRun
	case c.Transient:
		mode = ioengine.ModeTransient
	}
	return ioengine.NewGuardedBackend(c.Backend, mode)
}

func chunkConfigFor(path string, base Config) chunk.Config {
	target := base.ChunkTarget
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if mediaExtensions[strings.ToLower(ext)] {
		target *= base.MediaChunkMult
	}
	return chunk.Config{Target: target}
}

// defaultNameAttempts bounds the ISO-8601-plus-suffix collision retry
// loop in Backup, well past any plausible number of backups taken in
// the same second against the same bucket.
const defaultNameAttempts = 1000

// defaultArchiveName returns the ISO-8601 timestamp used when the
// caller doesn't name an archive explicitly.
func defaultArchiveName() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// deltaAccumulator tracks how many times a single backup references
// each block hash as it walks the source tree, becoming that backup's
// archive.Archive.Delta. It mirrors refcount.Map.Touch's
// always-increment-on-reference semantics so the archive's own delta
// stays consistent with what Backup actually added to the global
// refcount map.
type deltaAccumulator struct {
	mu     sync.Mutex
	counts map[hashcodec.Hash]int64
}

func newDeltaAccumulator() *deltaAccumulator {
	return &deltaAccumulator{counts: make(map[hashcodec.Hash]int64)}
}

func (d *deltaAccumulator) add(h hashcodec.Hash, n int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[h] += n
}

// snapshot renders the accumulated counts as the hex-keyed map the
// archive wire format stores, dropping any hash a rollback brought
// back down to zero.
func (d *deltaAccumulator) snapshot() map[string]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int64, len(d.counts))
	for h, c := range d.counts {
		if c <= 0 {
			continue
		}
		out[h.String()] = c
	}
	return out
}

// BackupResult summarizes a completed backup.
type BackupResult struct {
	ArchiveName  string
	Root         hashcodec.Hash
	FilesWalked  int
	BlocksNew    int
	BlocksReused int
	BytesWalked  int64
}

// Backup walks srcPath, builds a filetree.Node and per-file block
// trees, commits the archive object, and only then flushes the
// refcount map -- enforcing the ordering invariant that
// metadata/blocks is written strictly after the archive it accounts
// for, so a crash between the two leaves an archive whose blocks are
// all present in the store but missing from the stored refcount map
// (recoverable by Cleanup), never an archive referencing a block that
// was not stored.
func Backup(ctx context.Context, srcPath, archiveName string, cfg Config) (BackupResult, error) {
	cfg = cfg.normalize()
	backend := cfg.guardedBackend()

	refc, err := refcount.Load(ctx, backend, false)
	if err != nil {
		return BackupResult{}, err
	}
	delta := newDeltaAccumulator()

	pool := ioengine.New(ctx, cfg.Concurrency)
	var res BackupResult
	var errOnce error

	onError := func(path string, err error) {
		cfg.Log.Error("%s: %v", path, err)
	}

	var mu sync.Mutex
	chunkFile := func(ctx context.Context, path string, fi os.FileInfo) (hashcodec.Hash, bool, error) {
		root, newBlocks, totalLeaves, err := chunkAndStore(ctx, path, chunkConfigFor(path, cfg), cfg.CompressLevel, backend, refc, delta, pool)
		if err != nil {
			return hashcodec.Hash{}, false, err
		}
		mu.Lock()
		res.BlocksNew += newBlocks
		res.BlocksReused += totalLeaves - newBlocks
		res.FilesWalked++
		res.BytesWalked += fi.Size()
		mu.Unlock()
		return root, true, nil
	}

	root, err := filetree.Walk(pool.Context(), srcPath, filetree.WalkOptions{
		Exclude:   cfg.Exclude,
		ChunkFile: chunkFile,
		OnError:   onError,
	})
	if err != nil {
		errOnce = err
	}
	if err := pool.Wait(); errOnce == nil {
		errOnce = err
	}
	if errOnce != nil {
		if cfg.Transient {
			_ = backend.Rollback(ctx)
		}
		return BackupResult{}, errOnce
	}

	// Walk never calls chunkFile for empty files or repeated hardlink
	// names, so files are counted from the finished tree.
	var countFiles func(n filetree.Node) int
	countFiles = func(n filetree.Node) int {
		if n.Type == filetree.TypeFile {
			return 1
		}
		total := 0
		for _, c := range n.Children {
			total += countFiles(c)
		}
		return total
	}
	res.FilesWalked = countFiles(root)

	a := archive.Archive{
		CreatedAt: time.Now(),
		Root:      root,
		Delta:     delta.snapshot(),
	}

	base := archiveName
	if base == "" {
		base = defaultArchiveName()
	}
	name := base
	var created bool
	for suffix := 1; suffix <= defaultNameAttempts; suffix++ {
		a.Name = name
		raw, err := archive.Encode(a)
		if err != nil {
			return BackupResult{}, err
		}
		created, err = backend.PutIfAbsent(ctx, store.ArchiveKey(name), raw)
		if err != nil {
			if cfg.Transient {
				_ = backend.Rollback(ctx)
			}
			return BackupResult{}, err
		}
		if created {
			break
		}
		name = fmt.Sprintf("%s-%d", base, suffix+1)
	}
	if !created {
		if cfg.Transient {
			_ = backend.Rollback(ctx)
		}
		return BackupResult{}, fmt.Errorf("%w: archive %q already exists", cubisterr.ErrAlreadyExists, base)
	}
	archiveName = name

	if !cfg.DryRun {
		if err := refc.Flush(ctx, backend); err != nil {
			return BackupResult{}, fmt.Errorf("archive %q committed but refcount flush failed, run cleanup to repair: %w", archiveName, err)
		}
		idx, err := archive.LoadIndex(ctx, backend)
		if err != nil {
			return BackupResult{}, fmt.Errorf("archive %q committed but loading archive index failed: %w", archiveName, err)
		}
		idx.Add(archiveName, a.CreatedAt)
		if err := idx.Flush(ctx, backend); err != nil {
			return BackupResult{}, fmt.Errorf("archive %q committed but archive index flush failed: %w", archiveName, err)
		}
	}

	res.ArchiveName = archiveName
	res.Root = root.Root
	return res, nil
}

// chunkAndStore splits path's content into chunks, builds its
// block-tree, and registers each new block in refc. Each newly seen
// node's store write is dispatched through pool.Go rather than run
// inline, so --tasks concurrency governs the number of in-flight block
// PUTs across every file being walked, not just the number of files
// walked concurrently; refc/delta bookkeeping still happens
// synchronously in put since it must decide isNew before the node's
// hash can be pushed into the tree, and both are already
// mutex-protected against the resulting concurrent access. Backup's
// pool.Wait, called after the whole source tree has been walked,
// is what guarantees every dispatched PUT has completed (and
// succeeded) before the archive is committed.
//
// chunkAndStore returns the root hash, the number of genuinely new
// blocks the walk classified via Touch, and the total number of leaf
// chunks the file was split into (new plus reused). A PUT that fails
// after chunkAndStore has already returned is reported through pool's
// error, which chunkAndStore's caller checks via pool.Wait before
// trusting any of these counts.
func chunkAndStore(ctx context.Context, path string, chunkCfg chunk.Config, level int, backend *ioengine.GuardedBackend, refc *refcount.Map, delta *deltaAccumulator, pool *ioengine.Pool) (hashcodec.Hash, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return hashcodec.Hash{}, 0, 0, err
	}
	defer f.Close()

	reporting := &util.ReportingReader{R: f, Msg: path}
	defer reporting.Close()

	var newBlocks int64
	put := func(ctx context.Context, h hashcodec.Hash, raw []byte) error {
		isNew := refc.Touch(h)
		delta.add(h, 1)
		if !isNew {
			return nil
		}
		atomic.AddInt64(&newBlocks, 1)
		pool.Go(func(ctx context.Context) error {
			if _, err := backend.PutIfAbsent(ctx, store.BlockKey(h.String()), raw); err != nil {
				refc.Decrement(h)
				delta.add(h, -1)
				atomic.AddInt64(&newBlocks, -1)
				return fmt.Errorf("writing block %s: %w", h, err)
			}
			return nil
		})
		return nil
	}

	builder := blocktree.NewBuilder(put)
	chunker := chunk.New(chunkCfg)
	chunks, errs := chunker.Split(ctx, reporting)

	for c := range chunks {
		if err := builder.AddChunk(ctx, c, level); err != nil {
			chunker.ReturnBuffer(c.Buf)
			drain(chunks)
			return hashcodec.Hash{}, 0, 0, err
		}
		chunker.ReturnBuffer(c.Buf)
	}
	if err := <-errs; err != nil {
		return hashcodec.Hash{}, 0, 0, err
	}

	rootHash, ok, err := builder.Finish(ctx)
	if err != nil {
		return hashcodec.Hash{}, 0, 0, err
	}
	leaves, _ := builder.Stats()
	if !ok {
		return hashcodec.Hash{}, 0, leaves, nil
	}
	return rootHash, int(atomic.LoadInt64(&newBlocks)), leaves, nil
}

func drain(chunks <-chan chunk.Chunk) {
	for range chunks {
	}
}

func isNotFoundErr(err error) bool {
	return errors.Is(err, cubisterr.ErrNotFound)
}

// Restore reads archiveName and recreates its tree under destPath.
func Restore(ctx context.Context, archiveName, destPath string, cfg Config) error {
	cfg = cfg.normalize()
	backend := cfg.guardedBackend()

	raw, err := backend.Get(ctx, store.ArchiveKey(archiveName))
	if err != nil {
		return fmt.Errorf("reading archive %q: %w", archiveName, err)
	}
	a, err := archive.Decode(raw)
	if err != nil {
		return err
	}

	getNode := func(ctx context.Context, h hashcodec.Hash) ([]byte, error) {
		return backend.Get(ctx, store.BlockKey(h.String()))
	}
	reader := blocktree.NewReader(getNode)

	restoreFile := func(ctx context.Context, path string, root hashcodec.Hash) error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		defer f.Close()
		return reader.WriteTo(ctx, root, func(p []byte) error {
			_, err := f.Write(p)
			return err
		})
	}

	return filetree.Restore(ctx, a.Root, destPath, filetree.RestoreOptions{
		RestoreFile:         restoreFile,
		Concurrency:         cfg.Concurrency,
		Order:               cfg.RestoreOrder,
		BestEffortOwnership: os.Geteuid() != 0,
		OnError: func(path string, err error) {
			cfg.Log.Error("%s: %v", path, err)
		},
	})
}

// Delete removes each of archiveNames, decrementing the refcount for
// every block hash recorded in that archive's own Delta and sweeping
// any block whose count reaches zero. A name that doesn't resolve to
// an archive is reported and does not stop the remaining names from
// being processed, matching this system's per-argument delete
// semantics. Callers wanting a slower, safer path that doesn't trust
// an archive's own delta bookkeeping can rely on Cleanup instead,
// which rebuilds the whole refcount map from every surviving archive's
// Delta.
func Delete(ctx context.Context, archiveNames []string, cfg Config) error {
	cfg = cfg.normalize()
	backend := cfg.guardedBackend()

	refc, err := refcount.Load(ctx, backend, false)
	if err != nil {
		return err
	}

	var deleted []string
	var errs []error
	for _, name := range archiveNames {
		if err := deleteOne(ctx, backend, refc, name, cfg); err != nil {
			cfg.Log.Warning("%s: %v", name, err)
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, name)
	}

	if !cfg.DryRun {
		if err := refc.Flush(ctx, backend); err != nil {
			errs = append(errs, fmt.Errorf("refcount flush failed after delete, run cleanup to repair: %w", err))
		}
		if len(deleted) > 0 {
			idx, err := archive.LoadIndex(ctx, backend)
			if err != nil {
				errs = append(errs, fmt.Errorf("loading archive index after delete: %w", err))
			} else {
				for _, name := range deleted {
					idx.Remove(name)
				}
				if err := idx.Flush(ctx, backend); err != nil {
					errs = append(errs, fmt.Errorf("archive index flush failed after delete: %w", err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// deleteOne deletes a single archive, decrementing refc by the counts
// in its Delta rather than re-walking and re-fetching every block the
// archive's tree references.
func deleteOne(ctx context.Context, backend *ioengine.GuardedBackend, refc *refcount.Map, archiveName string, cfg Config) error {
	raw, err := backend.Get(ctx, store.ArchiveKey(archiveName))
	if err != nil {
		return fmt.Errorf("reading archive %q: %w", archiveName, err)
	}
	a, err := archive.Decode(raw)
	if err != nil {
		return fmt.Errorf("archive %q: %w", archiveName, err)
	}

	var toSweep []hashcodec.Hash
	for hex, count := range a.Delta {
		h, err := hashcodec.FromHex(hex)
		if err != nil {
			return fmt.Errorf("archive %q: %w", archiveName, err)
		}
		for i := int64(0); i < count; i++ {
			if refc.Decrement(h) {
				toSweep = append(toSweep, h)
			}
		}
	}

	if err := backend.Delete(ctx, store.ArchiveKey(archiveName)); err != nil {
		return err
	}

	for _, h := range toSweep {
		if err := backend.Delete(ctx, store.BlockKey(h.String())); err != nil && !isNotFoundErr(err) {
			cfg.Log.Warning("%s: failed to sweep orphaned block: %v", h, err)
		}
	}
	return nil
}

// walkBlockTreeHashes visits every leaf and branch hash reachable from
// each file's root in n, calling visit once per hash encountered
// (including duplicates: a hash referenced twice is fetched, checked
// and visited twice). Fsck uses it to check every referenced block.
func walkBlockTreeHashes(ctx context.Context, backend *ioengine.GuardedBackend, n filetree.Node, visit func(hashcodec.Hash)) error {
	switch n.Type {
	case filetree.TypeFile:
		if n.Root.IsZero() {
			return nil
		}
		return walkTreeNode(ctx, backend, n.Root, visit)
	case filetree.TypeDir:
		for _, c := range n.Children {
			if err := walkBlockTreeHashes(ctx, backend, c, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

func walkTreeNode(ctx context.Context, backend *ioengine.GuardedBackend, h hashcodec.Hash, visit func(hashcodec.Hash)) error {
	visit(h)
	raw, err := backend.Get(ctx, store.BlockKey(h.String()))
	if err != nil {
		return err
	}
	children, isBranch := branchChildren(raw)
	if !isBranch {
		content, err := hashcodec.Decompress(raw)
		if err != nil {
			return fmt.Errorf("leaf %s: %w", h, err)
		}
		if hashcodec.Sum(content) != h {
			return fmt.Errorf("%w: leaf %s content does not match its hash", cubisterr.ErrHashMismatch, h)
		}
		return nil
	}
	if hashcodec.Sum(raw) != h {
		return fmt.Errorf("%w: branch %s content does not match its hash", cubisterr.ErrHashMismatch, h)
	}
	for _, child := range children {
		if err := walkTreeNode(ctx, backend, child, visit); err != nil {
			return err
		}
	}
	return nil
}

// branchChildren extracts a branch node's children if raw looks like a
// branch payload (a non-empty, exact multiple of the hash size that
// isn't itself a Zstd frame), mirroring blocktree's own leaf/branch
// disambiguation without exporting it.
func branchChildren(raw []byte) ([]hashcodec.Hash, bool) {
	if len(raw) == 0 || len(raw)%hashcodec.Size != 0 {
		return nil, false
	}
	if len(raw) >= 4 && raw[0] == 0x28 && raw[1] == 0xB5 && raw[2] == 0x2F && raw[3] == 0xFD {
		return nil, false
	}
	n := len(raw) / hashcodec.Size
	out := make([]hashcodec.Hash, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], raw[i*hashcodec.Size:(i+1)*hashcodec.Size])
	}
	return out, true
}

// ArchiveInfo summarizes one archive for listing.
type ArchiveInfo struct {
	Name      string
	CreatedAt time.Time
}

// Archives lists every archive in the bucket, most recent first.
func Archives(ctx context.Context, cfg Config) ([]ArchiveInfo, error) {
	cfg = cfg.normalize()
	backend := cfg.guardedBackend()

	keys, errs := backend.List(ctx, store.ArchivePrefix)
	var infos []ArchiveInfo
	for key := range keys {
		raw, err := backend.Get(ctx, key)
		if err != nil {
			cfg.Log.Warning("%s: %v", key, err)
			continue
		}
		a, err := archive.Decode(raw)
		if err != nil {
			cfg.Log.Warning("%s: %v", key, err)
			continue
		}
		infos = append(infos, ArchiveInfo{Name: a.Name, CreatedAt: a.CreatedAt})
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

// CleanupResult summarizes a cleanup run.
type CleanupResult struct {
	ArchivesScanned int
	BlocksLive      int
	BlocksSwept     int
}

// Cleanup rebuilds the refcount map from scratch by summing every
// surviving archive's own Delta into a fresh map, then sweeps any
// stored block absent from the rebuilt map. This is the mark-then-sweep
// pattern this system's blob-store lineage's GC runner performs
// per-pack; here it runs over the whole bucket at once since this
// system's object layout has no pack-level granularity to compact.
func Cleanup(ctx context.Context, cfg Config) (CleanupResult, error) {
	cfg = cfg.normalize()
	backend := cfg.guardedBackend()

	var res CleanupResult
	var scanned int64
	fresh := refcount.New()

	pool := ioengine.New(ctx, cfg.Concurrency)
	keys, errs := backend.List(pool.Context(), store.ArchivePrefix)
	for key := range keys {
		key := key
		pool.Go(func(ctx context.Context) error {
			raw, err := backend.Get(ctx, key)
			if err != nil {
				cfg.Log.Warning("%s: %v", key, err)
				return nil
			}
			a, err := archive.Decode(raw)
			if err != nil {
				cfg.Log.Warning("%s: %v", key, err)
				return nil
			}
			atomic.AddInt64(&scanned, 1)
			for hex, count := range a.Delta {
				h, err := hashcodec.FromHex(hex)
				if err != nil {
					cfg.Log.Warning("%s: unrecognized delta hash: %v", key, err)
					continue
				}
				fresh.IncrementBy(h, count)
			}
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		return res, err
	}
	if err := <-errs; err != nil {
		return res, err
	}
	res.ArchivesScanned = int(scanned)
	res.BlocksLive = fresh.Len()

	blockKeys, errs := backend.List(ctx, store.BlockPrefix)
	for key := range blockKeys {
		hex := strings.TrimPrefix(key, store.BlockPrefix)
		h, err := hashcodec.FromHex(hex)
		if err != nil {
			cfg.Log.Warning("%s: unrecognized block key: %v", key, err)
			continue
		}
		if fresh.Exists(h) {
			continue
		}
		if cfg.DryRun {
			res.BlocksSwept++
			continue
		}
		if err := backend.Delete(ctx, key); err != nil && !isNotFoundErr(err) {
			cfg.Log.Warning("%s: failed to sweep: %v", key, err)
			continue
		}
		res.BlocksSwept++
	}
	if err := <-errs; err != nil {
		return res, err
	}

	if !cfg.DryRun {
		if err := fresh.Flush(ctx, backend); err != nil {
			return res, fmt.Errorf("rebuilt refcount map but failed to flush it: %w", err)
		}
	}
	return res, nil
}

// FsckResult summarizes a consistency check.
type FsckResult struct {
	ArchivesChecked int
	BlocksChecked   int
	Errors          []string
}

// Fsck walks every archive's block trees, verifying each block exists
// and hashes to the key it is stored under, without mutating anything.
// It supplements the explicit operation set the way this system's own
// BackupReader.Fsck (cmd/bk/backup.go) supplements bk's five verbs.
func Fsck(ctx context.Context, cfg Config) (FsckResult, error) {
	cfg = cfg.normalize()
	backend := cfg.guardedBackend()

	var res FsckResult
	var mu sync.Mutex
	var checked, blocksChecked int64

	pool := ioengine.New(ctx, cfg.Concurrency)
	keys, errs := backend.List(pool.Context(), store.ArchivePrefix)
	for key := range keys {
		key := key
		pool.Go(func(ctx context.Context) error {
			raw, err := backend.Get(ctx, key)
			if err != nil {
				mu.Lock()
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", key, err))
				mu.Unlock()
				return nil
			}
			a, err := archive.Decode(raw)
			if err != nil {
				mu.Lock()
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", key, err))
				mu.Unlock()
				return nil
			}
			atomic.AddInt64(&checked, 1)

			err = walkBlockTreeHashes(ctx, backend, a.Root, func(h hashcodec.Hash) {
				atomic.AddInt64(&blocksChecked, 1)
			})
			if err != nil {
				mu.Lock()
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := pool.Wait(); err != nil {
		return res, err
	}
	if err := <-errs; err != nil {
		return res, err
	}
	res.ArchivesChecked = int(checked)
	res.BlocksChecked = int(blocksChecked)
	return res, nil
}
