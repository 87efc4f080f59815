// cmd/cubist/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/cubist-project/cubist/cubisterr"
	"github.com/cubist-project/cubist/filetree"
	"github.com/cubist-project/cubist/ioengine"
	"github.com/cubist-project/cubist/ops"
	"github.com/cubist-project/cubist/store"
	"github.com/cubist-project/cubist/util"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: cubist <backup,restore,delete,archives,cleanup,fsck> [flags] [args...]\n")
	fmt.Fprintf(os.Stderr, "  backup   <src-dir> [archive-name]\n")
	fmt.Fprintf(os.Stderr, "  restore  <archive-name> <dest-dir>\n")
	fmt.Fprintf(os.Stderr, "  delete   <archive-name>...\n")
	fmt.Fprintf(os.Stderr, "  archives\n")
	fmt.Fprintf(os.Stderr, "  cleanup\n")
	fmt.Fprintf(os.Stderr, "  fsck\n")
	os.Exit(2)
}

// sharedFlags mirrors the flags every verb accepts, following the
// single-flag-set-per-subcommand style this system's rdso command uses,
// generalized to pflag for GNU-style long options.
type sharedFlags struct {
	bucket      string
	endpoint    string
	region      string
	pathStyle   bool
	tasks       int
	dryRun      bool
	transient   bool
	verbose     bool
	debug       bool
	quiet       bool
	stats       string
	color       string
	exclude     []string
	uploadBps   int
	downloadBps int
	order       string
}

func newFlagSet(name string) (*pflag.FlagSet, *sharedFlags) {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	sf := &sharedFlags{}
	fs.StringVar(&sf.bucket, "bucket", os.Getenv("CUBIST_BUCKET"), "S3 bucket name (or CUBIST_BUCKET)")
	fs.StringVar(&sf.endpoint, "endpoint", os.Getenv("CUBIST_ENDPOINT"), "S3-compatible endpoint URL (or CUBIST_ENDPOINT)")
	fs.StringVar(&sf.region, "region", os.Getenv("CUBIST_REGION"), "S3 region")
	fs.BoolVar(&sf.pathStyle, "path-style", false, "force path-style bucket addressing")
	fs.IntVar(&sf.tasks, "tasks", ioengine.DefaultConcurrency, "maximum concurrent object-store operations")
	fs.BoolVar(&sf.dryRun, "dry-run", false, "simulate writes without touching the bucket")
	fs.BoolVar(&sf.transient, "transient", false, "roll back a backup's writes if it fails partway through (other verbs do not roll back)")
	fs.BoolVarP(&sf.verbose, "verbose", "v", false, "enable verbose logging")
	fs.BoolVar(&sf.debug, "debug", false, "enable debug logging")
	fs.BoolVarP(&sf.quiet, "quiet", "q", false, "suppress warnings")
	fs.StringVar(&sf.stats, "stats", "basic", "result summary format: basic or json")
	fs.StringVar(&sf.color, "color", "auto", "colorize output: auto, always, or never (no-op, kept for script compatibility)")
	fs.StringSliceVar(&sf.exclude, "exclude", nil, "substring pattern to exclude from a backup, may be repeated")
	fs.IntVar(&sf.uploadBps, "max-upload-bytes-per-sec", 0, "cap upload bandwidth, 0 for unlimited")
	fs.IntVar(&sf.downloadBps, "max-download-bytes-per-sec", 0, "cap download bandwidth, 0 for unlimited")
	return fs, sf
}

func (sf *sharedFlags) buildBackend(ctx context.Context) (store.Backend, error) {
	if sf.bucket == "" {
		return nil, fmt.Errorf("%w: --bucket (or CUBIST_BUCKET) is required", cubisterr.ErrBadConfig)
	}
	return store.NewS3(ctx, store.S3Options{
		Bucket:                    sf.bucket,
		Endpoint:                  sf.endpoint,
		Region:                    sf.region,
		PathStyle:                 sf.pathStyle,
		MaxUploadBytesPerSecond:   sf.uploadBps,
		MaxDownloadBytesPerSecond: sf.downloadBps,
	})
}

func (sf *sharedFlags) opsConfig(backend store.Backend) ops.Config {
	return ops.Config{
		Backend:      backend,
		Log:          util.NewLogger(sf.verbose, sf.debug, sf.quiet),
		Concurrency:  sf.tasks,
		Exclude:      sf.exclude,
		DryRun:       sf.dryRun,
		Transient:    sf.transient,
		RestoreOrder: sf.restoreOrder(),
	}
}

// restoreOrder maps the --order flag to filetree's traversal enum,
// defaulting to depth-first for an empty or unrecognized value so
// verbs other than restore, which never register the flag, keep the
// zero-value behavior unaffected.
func (sf *sharedFlags) restoreOrder() filetree.Order {
	if sf.order == "breadth-first" {
		return filetree.OrderBreadthFirst
	}
	return filetree.OrderDepthFirst
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	verb := os.Args[1]
	args := os.Args[2:]

	var err error
	switch verb {
	case "backup":
		err = runBackup(ctx, args)
	case "restore":
		err = runRestore(ctx, args)
	case "delete":
		err = runDelete(ctx, args)
	case "archives":
		err = runArchives(ctx, args)
	case "cleanup":
		err = runCleanup(ctx, args)
	case "fsck":
		err = runFsck(ctx, args)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "cubist: unknown verb %q\n", verb)
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "cubist %s: %v\n", verb, err)
		os.Exit(cubisterr.ExitCode(err))
	}
}

func runBackup(ctx context.Context, args []string) error {
	fs, sf := newFlagSet("backup")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", cubisterr.ErrBadConfig, err)
	}
	if err := ioengine.ValidateFlags(sf.dryRun, sf.transient); err != nil {
		return err
	}
	if fs.NArg() != 1 && fs.NArg() != 2 {
		return fmt.Errorf("%w: backup requires <src-dir> [archive-name]", cubisterr.ErrBadConfig)
	}
	src := fs.Arg(0)
	var name string
	if fs.NArg() == 2 {
		name = fs.Arg(1)
	}

	backend, err := sf.buildBackend(ctx)
	if err != nil {
		return err
	}
	cfg := sf.opsConfig(backend)

	start := time.Now()
	res, err := ops.Backup(ctx, src, name, cfg)
	if err != nil {
		return err
	}
	printBackupResult(sf.stats, res, time.Since(start))
	return nil
}

func runRestore(ctx context.Context, args []string) error {
	fs, sf := newFlagSet("restore")
	fs.StringVar(&sf.order, "order", "depth-first", "traversal order: depth-first or breadth-first")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", cubisterr.ErrBadConfig, err)
	}
	if err := ioengine.ValidateFlags(sf.dryRun, sf.transient); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("%w: restore requires <archive-name> <dest-dir>", cubisterr.ErrBadConfig)
	}
	name, dest := fs.Arg(0), fs.Arg(1)

	backend, err := sf.buildBackend(ctx)
	if err != nil {
		return err
	}
	return ops.Restore(ctx, name, dest, sf.opsConfig(backend))
}

func runDelete(ctx context.Context, args []string) error {
	fs, sf := newFlagSet("delete")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", cubisterr.ErrBadConfig, err)
	}
	if err := ioengine.ValidateFlags(sf.dryRun, sf.transient); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("%w: delete requires at least one <archive-name>", cubisterr.ErrBadConfig)
	}

	backend, err := sf.buildBackend(ctx)
	if err != nil {
		return err
	}
	return ops.Delete(ctx, fs.Args(), sf.opsConfig(backend))
}

func runArchives(ctx context.Context, args []string) error {
	fs, sf := newFlagSet("archives")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", cubisterr.ErrBadConfig, err)
	}

	backend, err := sf.buildBackend(ctx)
	if err != nil {
		return err
	}
	infos, err := ops.Archives(ctx, sf.opsConfig(backend))
	if err != nil {
		return err
	}
	for _, a := range infos {
		fmt.Printf("%s\t%s\n", a.CreatedAt.Format(time.RFC3339), a.Name)
	}
	return nil
}

func runCleanup(ctx context.Context, args []string) error {
	fs, sf := newFlagSet("cleanup")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", cubisterr.ErrBadConfig, err)
	}
	if err := ioengine.ValidateFlags(sf.dryRun, sf.transient); err != nil {
		return err
	}

	backend, err := sf.buildBackend(ctx)
	if err != nil {
		return err
	}
	res, err := ops.Cleanup(ctx, sf.opsConfig(backend))
	if err != nil {
		return err
	}
	fmt.Printf("archives scanned: %d\nblocks live: %d\nblocks swept: %d\n", res.ArchivesScanned, res.BlocksLive, res.BlocksSwept)
	return nil
}

func runFsck(ctx context.Context, args []string) error {
	fs, sf := newFlagSet("fsck")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", cubisterr.ErrBadConfig, err)
	}

	backend, err := sf.buildBackend(ctx)
	if err != nil {
		return err
	}
	res, err := ops.Fsck(ctx, sf.opsConfig(backend))
	if err != nil {
		return err
	}
	fmt.Printf("archives checked: %d\nblocks checked: %d\n", res.ArchivesChecked, res.BlocksChecked)
	if len(res.Errors) > 0 {
		fmt.Printf("errors:\n  %s\n", strings.Join(res.Errors, "\n  "))
		return fmt.Errorf("%w: %d inconsistencies found", cubisterr.ErrInconsistency, len(res.Errors))
	}
	return nil
}

func printBackupResult(format string, res ops.BackupResult, elapsed time.Duration) {
	if format == "json" {
		fmt.Printf(`{"archive":%q,"root":%q,"files":%d,"blocks_new":%d,"blocks_reused":%d,"bytes":%d,"elapsed_seconds":%.3f}`+"\n",
			res.ArchiveName, res.Root.String(), res.FilesWalked, res.BlocksNew, res.BlocksReused, res.BytesWalked, elapsed.Seconds())
		return
	}
	fmt.Printf("archive:        %s\n", res.ArchiveName)
	fmt.Printf("root:           %s\n", res.Root.String())
	fmt.Printf("files walked:   %d\n", res.FilesWalked)
	fmt.Printf("blocks new:     %d\n", res.BlocksNew)
	fmt.Printf("blocks reused:  %d\n", res.BlocksReused)
	fmt.Printf("bytes walked:   %s\n", util.FmtBytes(res.BytesWalked))
	fmt.Printf("elapsed:        %s\n", elapsed.Round(time.Millisecond))
}
