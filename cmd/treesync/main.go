/*
treesync synchronizes files and directories between two trees.

It scans a source and a destination tree into content-hashed inventories,
computes the minimal set of copy, update and delete operations required to
converge them, and applies those operations safely: files are written to a
temporary sibling and renamed into place, so a concurrent reader of the
destination never observes partially written contents. Synchronization can
run one-way (destination follows source) or bi-directionally (newer side
wins, unresolvable mismatches are reported as conflicts), once or
continuously on an interval, optionally triggered by filesystem events.
It supports these commands:

	sync - synchronize a source tree into (or with) a destination tree
	diff - print the operations a sync would perform, without applying them
	list - produce a content-hashed listing of all the paths in a tree

All commands print their primary results (such as planned operations or
listing lines) to standard output (stdout). Any encountered errors and
operational messages are printed to standard error (stderr).

Exit Codes:

	0 - Success (including a user-interrupted continuous sync)
	1 - Differences found (only for 'diff')
	2 - General failure (invalid input, I/O errors, etc.)
*/
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/lanrat/extsort"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const (
	baseFilePerms   = 0o666
	baseFolderPerms = 0o777

	fsStreamBuffer = 1000

	defaultInterval = 10 * time.Second

	exitTimeout        = 10 * time.Second
	exitCodeSuccess    = 0
	exitCodeDiffsFound = 1
	exitCodeFailure    = 2
)

var (
	// Version is automatically populated by the build process (Makefile).
	Version string

	//nolint:mnd
	gzipConfigDefault = GzipConfig{
		BlockSize:        1 << 20,               // Approximate size of blocks
		BlockCount:       runtime.GOMAXPROCS(0), // Amount of blocks processing in parallel
		CompressionLevel: 6,                     // Target level for compression
	}

	//nolint:mnd
	extSortConfigDefault = extsort.Config{
		ChunkSize:          100_000,                       // Records per chunk (default: 1M)
		NumWorkers:         min(4, runtime.GOMAXPROCS(0)), // Parallel sorting/merging workers (default: 2)
		ChanBuffSize:       1,                             // Channel buffer size (default: 1)
		SortedChanBuffSize: 1000,                          // Output channel buffer (default: 1000)
		TempFilesDir:       "",                            // Temporary files directory (default: intelligent selection)
	}

	// ErrDiffsFound is an exit-code relevant sentinel error.
	ErrDiffsFound = errors.New("differences were found")
)

// Program is the primary structure of the application.
type Program struct {
	fs       afero.Fs
	fsWalker Walker

	stdout io.Writer
	stderr io.Writer
	log    *slog.Logger

	gzipConfig    *GzipConfig
	extSortConfig *extsort.Config
}

// NewProgram returns a pointer to a new [Program].
func NewProgram(fs afero.Fs, stdout io.Writer, stderr io.Writer, log *slog.Logger, gzipConfig *GzipConfig, extsortConfig *extsort.Config) *Program {
	var walker Walker

	if fs == nil {
		fs = afero.NewOsFs()
	}

	if stdout == nil {
		stdout = os.Stdout
	}

	if stderr == nil {
		stderr = os.Stderr
	}

	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	if gzipConfig == nil {
		cfg := gzipConfigDefault
		gzipConfig = &cfg
	}

	if extsortConfig == nil {
		cfg := extSortConfigDefault
		extsortConfig = &cfg
	}

	if _, ok := fs.(*afero.OsFs); ok {
		walker = OSWalker{}
	} else {
		walker = AferoWalker{FS: fs}
	}

	return &Program{
		fs:            fs,
		fsWalker:      walker,
		stdout:        stdout,
		stderr:        stderr,
		log:           log,
		gzipConfig:    gzipConfig,
		extSortConfig: extsortConfig,
	}
}

func newRootCmd(ctx context.Context, fs afero.Fs, stdout io.Writer, stderr io.Writer) *cobra.Command {
	var debug bool

	rootCmd := &cobra.Command{
		Use:               "treesync",
		Short:             rootHelpShort,
		Long:              rootHelpLong,
		Version:           Version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	logWriter := stderr
	if logWriter == nil {
		logWriter = os.Stderr
	}

	syncCfg := SyncConfig{}
	var syncExcludes []string
	var syncExcludesFile string
	syncGzipConfig := gzipConfigDefault
	syncCmd := &cobra.Command{
		Use:     "sync <source> <destination> <mode>",
		Short:   syncHelpShort,
		Long:    syncHelpLong,
		Example: syncExample,
		Args:    cobra.ExactArgs(3), //nolint:mnd
		RunE: func(_ *cobra.Command, args []string) error {
			mode, err := parseMode(args[2])
			if err != nil {
				return err
			}

			prog := NewProgram(fs, stdout, stderr, newLogger(logWriter, debug), &syncGzipConfig, nil)

			excludes, err := prog.mergeExcludes(syncExcludes, syncExcludesFile)
			if err != nil {
				return err
			}

			cfg := syncCfg
			cfg.Source = args[0]
			cfg.Destination = args[1]
			cfg.Mode = mode
			cfg.Excludes = excludes
			if cfg.Watch {
				cfg.Continuous = true
			}

			syncer, err := NewSyncer(prog, &cfg)
			if err != nil {
				return err
			}

			return syncer.Run(ctx)
		},
	}
	syncCmd.Flags().BoolVar(&syncCfg.DeleteOrphans, "delete-orphans", false, "delete destination paths absent from the source (one-way only)")
	syncCmd.Flags().BoolVar(&syncCfg.Continuous, "continuous", false, "keep synchronizing at the configured interval until interrupted")
	syncCmd.Flags().DurationVar(&syncCfg.Interval, "interval", defaultInterval, "wait time between continuous synchronization cycles")
	syncCmd.Flags().BoolVar(&syncCfg.Watch, "watch", false, "also trigger cycles on filesystem changes; implies --continuous")
	syncCmd.Flags().BoolVar(&syncCfg.DryRun, "dry-run", false, "print the planned operations without applying them")
	syncCmd.Flags().StringVar(&syncCfg.BackupDir, "backup", "", "archive overwritten or deleted content into this directory")
	syncCmd.Flags().IntVar(&syncCfg.Workers, "workers", runtime.GOMAXPROCS(0), "workers for concurrent hashing and copying")
	syncCmd.Flags().StringArrayVar(&syncExcludes, "exclude", nil, "path pattern to exclude; can be repeated multiple times")
	syncCmd.Flags().StringVar(&syncExcludesFile, "excludes-from", "", "file containing exclude patterns, one per line")
	syncCmd.Flags().IntVar(&syncGzipConfig.BlockSize, "blocksize", gzipConfigDefault.BlockSize, "block size for compressing backup archives")
	syncCmd.Flags().IntVar(&syncGzipConfig.BlockCount, "blockcount", gzipConfigDefault.BlockCount, "blocks to compress in parallel for backup archives")

	diffCfg := SyncConfig{DryRun: true}
	var diffExcludes []string
	var diffExcludesFile string
	diffCmd := &cobra.Command{
		Use:     "diff <source> <destination> <mode>",
		Short:   diffHelpShort,
		Long:    diffHelpLong,
		Example: diffExample,
		Args:    cobra.ExactArgs(3), //nolint:mnd
		RunE: func(_ *cobra.Command, args []string) error {
			mode, err := parseMode(args[2])
			if err != nil {
				return err
			}

			prog := NewProgram(fs, stdout, stderr, newLogger(logWriter, debug), nil, nil)

			excludes, err := prog.mergeExcludes(diffExcludes, diffExcludesFile)
			if err != nil {
				return err
			}

			cfg := diffCfg
			cfg.Source = args[0]
			cfg.Destination = args[1]
			cfg.Mode = mode
			cfg.Excludes = excludes

			syncer, err := NewSyncer(prog, &cfg)
			if err != nil {
				return err
			}

			plan, err := syncer.Plan(ctx)
			if err != nil {
				return err
			}

			syncer.printPlan(plan)

			if !plan.Empty() {
				return ErrDiffsFound
			}

			return nil
		},
	}
	diffCmd.Flags().BoolVar(&diffCfg.DeleteOrphans, "delete-orphans", false, "include deletions of destination paths absent from the source (one-way only)")
	diffCmd.Flags().IntVar(&diffCfg.Workers, "workers", runtime.GOMAXPROCS(0), "workers for concurrent hashing")
	diffCmd.Flags().StringArrayVar(&diffExcludes, "exclude", nil, "path pattern to exclude; can be repeated multiple times")
	diffCmd.Flags().StringVar(&diffExcludesFile, "excludes-from", "", "file containing exclude patterns, one per line")

	listSort := true
	var listExcludes []string
	var listExcludesFile string
	listSorterConfig := extSortConfigDefault
	listCmd := &cobra.Command{
		Use:     "list <root-folder>",
		Short:   listHelpShort,
		Long:    listHelpLong,
		Example: listExample,
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			prog := NewProgram(fs, stdout, stderr, newLogger(logWriter, debug), nil, &listSorterConfig)

			excludes, err := prog.mergeExcludes(listExcludes, listExcludesFile)
			if err != nil {
				return err
			}

			return prog.List(ctx, args[0], listSort, excludes)
		},
	}
	listCmd.Flags().BoolVar(&listSort, "sort", true, "sort the output list; for better comparability")
	listCmd.Flags().StringVar(&listSorterConfig.TempFilesDir, "tmpdir", extSortConfigDefault.TempFilesDir, "on-disk location for intermediate files")
	listCmd.Flags().IntVar(&listSorterConfig.NumWorkers, "workers", extSortConfigDefault.NumWorkers, "workers for concurrent operations")
	listCmd.Flags().IntVar(&listSorterConfig.ChunkSize, "chunksize", extSortConfigDefault.ChunkSize, "max records per worker before spilling to disk")
	listCmd.Flags().StringArrayVar(&listExcludes, "exclude", nil, "path pattern to exclude; can be repeated multiple times")
	listCmd.Flags().StringVar(&listExcludesFile, "excludes-from", "", "file containing exclude patterns, one per line")

	rootCmd.AddCommand(syncCmd, diffCmd, listCmd)

	return rootCmd
}

func main() {
	var exitCode int

	defer func() {
		os.Exit(exitCode)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	quitChan := make(chan struct{}, 1)
	go watchStdinQuit(os.Stdin, quitChan)

	errChan := make(chan error, 1)
	go func() {
		rootCmd := newRootCmd(ctx, afero.NewOsFs(), os.Stdout, os.Stderr)
		errChan <- rootCmd.Execute()
	}()

	select {
	case err := <-errChan:
		exitCode = exitCodeFor(err)

	case <-sigChan:
		fmt.Fprintln(os.Stderr, "interrupting...")
		cancel()
		exitCode = awaitExit(errChan)

	case <-quitChan:
		fmt.Fprintln(os.Stderr, "quitting...")
		cancel()
		exitCode = awaitExit(errChan)
	}
}

// watchStdinQuit signals on ch once a lone "q" line arrives on r, so an
// interactive continuous sync can be stopped without a signal.
func watchStdinQuit(r io.Reader, ch chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "q" {
			select {
			case ch <- struct{}{}:
			default:
			}

			return
		}
	}
}

// awaitExit waits for the command to unwind after a cancellation, giving up
// after a grace period.
func awaitExit(errChan <-chan error) int {
	select {
	case err := <-errChan:
		fmt.Fprintln(os.Stderr, "interrupted (exited)")

		return exitCodeFor(err)
	case <-time.After(exitTimeout):
		fmt.Fprintln(os.Stderr, "interrupted (killed)")

		return exitCodeFailure
	}
}

// exitCodeFor maps a command error to the program's exit code contract. A
// cancellation is a user-requested stop and exits cleanly.
func exitCodeFor(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return exitCodeSuccess
	case errors.Is(err, ErrDiffsFound):
		return exitCodeDiffsFound
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)

		return exitCodeFailure
	}
}
