package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// FileRecord describes a single path within a scanned tree.
//
// Records are immutable once produced; a new scan supersedes them wholesale.
// The Digest field holds the hex-encoded SHA-256 of the file contents and is
// empty for directories. Unreadable marks a path whose metadata or contents
// could not be read this cycle; such records plan no actions, so a transient
// read error on one side never cascades into changes on the other.
type FileRecord struct {
	Path       string // relative to the scanned root, slash-separated
	Size       int64
	ModTime    time.Time
	Digest     string
	IsDir      bool
	Unreadable bool
}

// Inventory is the complete state of one tree as of one scan, keyed by the
// relative slash-separated path of each record.
type Inventory map[string]*FileRecord

// Paths returns all inventory keys in lexical order.
func (inv Inventory) Paths() []string {
	paths := make([]string, 0, len(inv))
	for p := range inv {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	return paths
}

// Scanner produces Inventories of a single root directory.
//
// A Scanner retains the Inventory of its previous run: a record whose size and
// modification time are both unchanged reuses the previously computed digest
// instead of re-reading the file. The first run always hashes everything.
type Scanner struct {
	prog    *Program
	root    string
	workers int
	prev    Inventory
}

// NewScanner returns a [Scanner] for the given root directory.
func NewScanner(prog *Program, root string, workers int) *Scanner {
	if workers < 1 {
		workers = 1
	}

	return &Scanner{
		prog:    prog,
		root:    root,
		workers: workers,
	}
}

// Scan walks the scanner's root and returns a complete [Inventory] of it.
//
// Symbolic links and other irregular entries are skipped and never followed.
// Paths matching the excludes slice are skipped. A file that cannot be read
// is logged and its record marked unreadable, which excludes the path from
// planning; an unreadable root fails the whole scan and no partial inventory
// is returned. The ctx parameter controls early cancellation.
func (sc *Scanner) Scan(ctx context.Context, excludes []string) (Inventory, error) {
	if _, err := sc.prog.fs.Stat(sc.root); err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}

	inv := make(Inventory)

	var pending []*FileRecord

	if err := sc.prog.fsWalker.WalkDir(sc.root, func(path string, d fs.DirEntry, err error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err != nil {
			return fmt.Errorf("failed to walk filesystem: %w", err)
		}

		if path == sc.root {
			return nil
		}

		relPath, err := filepath.Rel(sc.root, path)
		if err != nil {
			return fmt.Errorf("failed to obtain relative path: %w", err)
		}

		if excluded, err := isExcluded(relPath, d.IsDir(), excludes); err != nil {
			return fmt.Errorf("failed to check for exclusion: %w", err)
		} else if excluded && d.IsDir() {
			return filepath.SkipDir
		} else if excluded {
			return nil
		}

		if !d.IsDir() && !d.Type().IsRegular() {
			sc.prog.log.Debug("skipping irregular entry", "path", path)

			return nil
		}

		info, err := d.Info()
		if err != nil {
			sc.prog.log.Warn("skipping unreadable entry", "path", path, "error", err)

			relPath = filepath.ToSlash(relPath)
			inv[relPath] = &FileRecord{Path: relPath, IsDir: d.IsDir(), Unreadable: true}

			return nil
		}

		rec := &FileRecord{
			Path:    filepath.ToSlash(relPath),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   d.IsDir(),
		}
		inv[rec.Path] = rec

		if !rec.IsDir && !sc.reuseDigest(rec) {
			pending = append(pending, rec)
		}

		return nil
	}); err != nil {
		return nil, fmt.Errorf("failure during scan: %w", err)
	}

	if err := sc.hashPending(ctx, pending); err != nil {
		return nil, err
	}

	sc.prev = inv

	return inv, nil
}

// reuseDigest carries a digest over from the previous scan when the record's
// size and modification time are both unchanged. It never trusts the
// modification time alone.
func (sc *Scanner) reuseDigest(rec *FileRecord) bool {
	prev, ok := sc.prev[rec.Path]
	if !ok || prev.IsDir || prev.Digest == "" {
		return false
	}

	if prev.Size != rec.Size || !prev.ModTime.Equal(rec.ModTime) {
		return false
	}

	rec.Digest = prev.Digest

	return true
}

// hashPending computes digests for all records still missing one, fanning the
// reads out over a bounded worker pool. The records are disjoint, so workers
// share no mutable state. Files failing to read are marked unreadable rather
// than failing the scan.
func (sc *Scanner) hashPending(ctx context.Context, pending []*FileRecord) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(sc.workers)

	for _, rec := range pending {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			digest, err := hashFile(sc.prog.fs, filepath.Join(sc.root, filepath.FromSlash(rec.Path)))
			if err != nil {
				sc.prog.log.Warn("skipping unreadable file", "path", rec.Path, "error", err)
				rec.Unreadable = true

				return nil
			}
			rec.Digest = digest

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("failure during hashing: %w", err)
	}

	return nil
}

// hashFile returns the hex-encoded SHA-256 digest of a file's contents.
func hashFile(afs afero.Fs, path string) (string, error) {
	f, err := afs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
