package ops

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cubist-project/cubist/archive"
	"github.com/cubist-project/cubist/filetree"
	"github.com/cubist-project/cubist/store"
)

func testConfig(backend store.Backend) Config {
	return Config{
		Backend:     backend,
		ChunkTarget: 4096,
		Concurrency: 4,
	}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":     "hello world",
		"sub/b.txt": "nested content",
		"sub/c.bin": string(bytes.Repeat([]byte{7}, 20000)),
		"empty.txt": "",
	})

	res, err := Backup(ctx, src, "nightly-1", testConfig(backend))
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if res.FilesWalked != 4 {
		t.Errorf("FilesWalked = %d, want 4", res.FilesWalked)
	}

	dst := filepath.Join(t.TempDir(), "restored")
	if err := Restore(ctx, "nightly-1", dst, testConfig(backend)); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	if err != nil || string(got) != "hello world" {
		t.Errorf("a.txt = %q, %v", got, err)
	}
	got, err = os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	if err != nil || string(got) != "nested content" {
		t.Errorf("sub/b.txt = %q, %v", got, err)
	}
	got, err = os.ReadFile(filepath.Join(dst, "sub", "c.bin"))
	if err != nil || !bytes.Equal(got, bytes.Repeat([]byte{7}, 20000)) {
		t.Errorf("sub/c.bin mismatch, err=%v", err)
	}
	got, err = os.ReadFile(filepath.Join(dst, "empty.txt"))
	if err != nil || len(got) != 0 {
		t.Errorf("empty.txt = %q, %v", got, err)
	}
}

func TestBackupDeduplicatesAcrossArchives(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src1 := t.TempDir()
	writeTree(t, src1, map[string]string{"file.txt": "identical content across backups"})
	src2 := t.TempDir()
	writeTree(t, src2, map[string]string{"file.txt": "identical content across backups"})

	res1, err := Backup(ctx, src1, "archive-1", testConfig(backend))
	if err != nil {
		t.Fatal(err)
	}
	blocksAfterFirst := countBlocks(t, ctx, backend)

	res2, err := Backup(ctx, src2, "archive-2", testConfig(backend))
	if err != nil {
		t.Fatal(err)
	}
	if res2.BlocksNew != 0 {
		t.Errorf("second backup of identical content wrote %d new blocks, want 0", res2.BlocksNew)
	}
	if res1.Root != res2.Root {
		t.Error("identical directory trees should produce the same root")
	}
	blocksAfterSecond := countBlocks(t, ctx, backend)
	if blocksAfterFirst != blocksAfterSecond {
		t.Errorf("block count changed from %d to %d after a fully-deduplicated backup", blocksAfterFirst, blocksAfterSecond)
	}
}

func countBlocks(t *testing.T, ctx context.Context, backend store.Backend) int {
	t.Helper()
	keys, errs := backend.List(ctx, store.BlockPrefix)
	n := 0
	for range keys {
		n++
	}
	if err := <-errs; err != nil {
		t.Fatal(err)
	}
	return n
}

func TestDeleteDecrementsAndSweepsOrphans(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"file.txt": "content to be deleted"})

	if _, err := Backup(ctx, src, "only-archive", testConfig(backend)); err != nil {
		t.Fatal(err)
	}
	if countBlocks(t, ctx, backend) == 0 {
		t.Fatal("expected at least one block after backup")
	}

	if err := Delete(ctx, []string{"only-archive"}, testConfig(backend)); err != nil {
		t.Fatal(err)
	}
	if n := countBlocks(t, ctx, backend); n != 0 {
		t.Errorf("blocks remaining after deleting the only archive referencing them: %d", n)
	}
}

func TestDeleteKeepsSharedBlocks(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src1 := t.TempDir()
	writeTree(t, src1, map[string]string{"file.txt": "shared between two archives"})
	src2 := t.TempDir()
	writeTree(t, src2, map[string]string{"file.txt": "shared between two archives"})

	if _, err := Backup(ctx, src1, "archive-a", testConfig(backend)); err != nil {
		t.Fatal(err)
	}
	if _, err := Backup(ctx, src2, "archive-b", testConfig(backend)); err != nil {
		t.Fatal(err)
	}
	blocksBefore := countBlocks(t, ctx, backend)

	if err := Delete(ctx, []string{"archive-a"}, testConfig(backend)); err != nil {
		t.Fatal(err)
	}
	if n := countBlocks(t, ctx, backend); n != blocksBefore {
		t.Errorf("deleting one of two archives referencing the same content changed block count from %d to %d", blocksBefore, n)
	}

	dst := filepath.Join(t.TempDir(), "restored")
	if err := Restore(ctx, "archive-b", dst, testConfig(backend)); err != nil {
		t.Fatalf("surviving archive should still restore: %v", err)
	}
}

func TestDeleteContinuesPastMissingArchive(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"file.txt": "content"})

	if _, err := Backup(ctx, src, "real-archive", testConfig(backend)); err != nil {
		t.Fatal(err)
	}

	err := Delete(ctx, []string{"no-such-archive", "real-archive"}, testConfig(backend))
	if err == nil {
		t.Fatal("expected an error reporting the missing archive")
	}
	if n := countBlocks(t, ctx, backend); n != 0 {
		t.Errorf("real-archive should still have been deleted despite the earlier miss: %d blocks remain", n)
	}
}

func TestBackupDefaultNameIsISO8601(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"f.txt": "x"})

	res, err := Backup(ctx, src, "", testConfig(backend))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := time.Parse(time.RFC3339, res.ArchiveName); err != nil {
		t.Errorf("default archive name %q is not ISO-8601: %v", res.ArchiveName, err)
	}
}

func TestBackupNameCollisionIncrementsSuffix(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src1 := t.TempDir()
	writeTree(t, src1, map[string]string{"f.txt": "one"})
	src2 := t.TempDir()
	writeTree(t, src2, map[string]string{"f.txt": "two"})

	res1, err := Backup(ctx, src1, "nightly", testConfig(backend))
	if err != nil {
		t.Fatal(err)
	}
	res2, err := Backup(ctx, src2, "nightly", testConfig(backend))
	if err != nil {
		t.Fatal(err)
	}
	if res1.ArchiveName != "nightly" {
		t.Errorf("ArchiveName = %q, want %q", res1.ArchiveName, "nightly")
	}
	if res2.ArchiveName == "nightly" {
		t.Error("colliding archive name should have gained a suffix")
	}

	infos, err := Archives(ctx, testConfig(backend))
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("Archives() returned %d entries, want 2", len(infos))
	}
}

func TestArchivesListsCreated(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"f.txt": "x"})

	if _, err := Backup(ctx, src, "one", testConfig(backend)); err != nil {
		t.Fatal(err)
	}
	if _, err := Backup(ctx, src, "two", testConfig(backend)); err != nil {
		t.Fatal(err)
	}

	infos, err := Archives(ctx, testConfig(backend))
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("Archives() returned %d entries, want 2", len(infos))
	}
}

func TestCleanupSweepsOrphanedBlockAfterInconsistentDelete(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"f.txt": "orphan me"})

	if _, err := Backup(ctx, src, "solo", testConfig(backend)); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash between deleting the archive object and
	// updating the refcount map: remove the archive directly through
	// the backend, bypassing Delete's bookkeeping.
	if err := backend.Delete(ctx, store.ArchiveKey("solo")); err != nil {
		t.Fatal(err)
	}

	res, err := Cleanup(ctx, testConfig(backend))
	if err != nil {
		t.Fatal(err)
	}
	if res.ArchivesScanned != 0 {
		t.Errorf("ArchivesScanned = %d, want 0 after removing the only archive", res.ArchivesScanned)
	}
	if res.BlocksSwept == 0 {
		t.Error("expected orphaned blocks to be swept")
	}
	if n := countBlocks(t, ctx, backend); n != 0 {
		t.Errorf("blocks remaining after cleanup: %d", n)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"f.txt": "stable content"})

	if _, err := Backup(ctx, src, "keep", testConfig(backend)); err != nil {
		t.Fatal(err)
	}

	first, err := Cleanup(ctx, testConfig(backend))
	if err != nil {
		t.Fatal(err)
	}
	second, err := Cleanup(ctx, testConfig(backend))
	if err != nil {
		t.Fatal(err)
	}
	if first.BlocksLive != second.BlocksLive || second.BlocksSwept != 0 {
		t.Errorf("second cleanup should be a no-op: first=%+v second=%+v", first, second)
	}

	dst := filepath.Join(t.TempDir(), "restored")
	if err := Restore(ctx, "keep", dst, testConfig(backend)); err != nil {
		t.Fatalf("archive should still restore after cleanup: %v", err)
	}
}

func TestDryRunLeavesBucketEmpty(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"f.txt": "should not be written"})

	cfg := testConfig(backend)
	cfg.DryRun = true
	if _, err := Backup(ctx, src, "dry", cfg); err != nil {
		t.Fatal(err)
	}
	if n := backend.Len(); n != 0 {
		t.Errorf("dry-run backup left %d objects in the bucket, want 0", n)
	}
}

func TestExcludePatternsSkipMatchingPaths(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"keep.txt":    "a",
		"cache/x.tmp": "b",
	})

	cfg := testConfig(backend)
	cfg.Exclude = []string{"cache"}
	res, err := Backup(ctx, src, "excl", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if res.FilesWalked != 1 {
		t.Errorf("FilesWalked = %d, want 1 (cache/ should be excluded)", res.FilesWalked)
	}
}

func TestBackupUpdatesArchiveIndex(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"f.txt": "indexed"})

	if _, err := Backup(ctx, src, "one", testConfig(backend)); err != nil {
		t.Fatal(err)
	}
	if _, err := Backup(ctx, src, "two", testConfig(backend)); err != nil {
		t.Fatal(err)
	}

	idx, err := archive.LoadIndex(ctx, backend)
	if err != nil {
		t.Fatal(err)
	}
	entries := idx.Entries()
	if len(entries) != 2 {
		t.Fatalf("archive index has %d entries, want 2", len(entries))
	}
}

func TestDeleteRemovesArchiveIndexEntry(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"f.txt": "indexed"})

	if _, err := Backup(ctx, src, "keep", testConfig(backend)); err != nil {
		t.Fatal(err)
	}
	if _, err := Backup(ctx, src, "gone", testConfig(backend)); err != nil {
		t.Fatal(err)
	}
	if err := Delete(ctx, []string{"gone"}, testConfig(backend)); err != nil {
		t.Fatal(err)
	}

	idx, err := archive.LoadIndex(ctx, backend)
	if err != nil {
		t.Fatal(err)
	}
	entries := idx.Entries()
	if len(entries) != 1 || entries[0].Name != "keep" {
		t.Errorf("archive index entries = %+v, want only %q", entries, "keep")
	}
}

func TestRestoreHonorsBreadthFirstOrder(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"top.txt":        "top",
		"sub/nested.txt": "nested",
	})

	if _, err := Backup(ctx, src, "bfs", testConfig(backend)); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(backend)
	cfg.RestoreOrder = filetree.OrderBreadthFirst
	dst := filepath.Join(t.TempDir(), "restored")
	if err := Restore(ctx, "bfs", dst, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "sub", "nested.txt"))
	if err != nil || string(got) != "nested" {
		t.Errorf("sub/nested.txt = %q, %v", got, err)
	}
}

func TestFsckReportsNoErrorsOnHealthyBucket(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"f.txt": "healthy"})

	if _, err := Backup(ctx, src, "healthy", testConfig(backend)); err != nil {
		t.Fatal(err)
	}
	res, err := Fsck(ctx, testConfig(backend))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 0 {
		t.Errorf("Fsck found errors on a healthy bucket: %v", res.Errors)
	}
	if res.ArchivesChecked != 1 {
		t.Errorf("ArchivesChecked = %d, want 1", res.ArchivesChecked)
	}
}
