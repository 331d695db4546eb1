package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"slices"

	"golang.org/x/sync/errgroup"
)

const tmpSuffix = ".treesync-tmp"

// ApplyResult is the outcome of one attempted [Action]. A nil Err means the
// action was applied; a non-nil Err records why it was not.
type ApplyResult struct {
	Action Action
	Err    error
}

// Apply executes a plan's actions against the filesystem and returns one
// [ApplyResult] per action, in plan order.
//
// Actions run in four phases so that directories exist before the files they
// contain and are removed only after their contents: directory creations
// (parents first), file copies, file deletions, directory deletions
// (children first). Copies and deletions of independent paths run on a
// bounded worker pool; copies land via a temporary file renamed into place,
// so a concurrent reader never observes partial contents.
//
// A failing action does not abort the remaining independent ones. The ctx
// parameter is honored between actions only: an in-flight copy always
// completes (or cleans up) before the applier yields, leaving every target
// file either fully old or fully new.
func (prog *Program) Apply(ctx context.Context, plan *Plan, workers int) []ApplyResult {
	if workers < 1 {
		workers = 1
	}

	results := make([]ApplyResult, len(plan.Actions))

	var dirCreates, fileOps, dirDeletes []int

	for i, act := range plan.Actions {
		results[i] = ApplyResult{Action: act}

		switch {
		case act.IsDir && act.Kind != ActionDelete:
			dirCreates = append(dirCreates, i)
		case act.IsDir:
			dirDeletes = append(dirDeletes, i)
		default:
			fileOps = append(fileOps, i)
		}
	}

	// Plan order is lexical, so parents sort before their children.
	for _, i := range dirCreates {
		act := plan.Actions[i]

		if err := ctx.Err(); err != nil {
			results[i].Err = err

			continue
		}

		results[i].Err = prog.applyDirCreate(act)
	}

	var group errgroup.Group
	group.SetLimit(workers)

	for _, i := range fileOps {
		act := plan.Actions[i]

		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err

				return nil
			}

			if act.Kind == ActionDelete {
				results[i].Err = prog.applyFileDelete(act)
			} else {
				results[i].Err = prog.applyFileCopy(act)
			}

			return nil
		})
	}
	_ = group.Wait()

	// Reverse lexical order removes children before their parents.
	slices.Reverse(dirDeletes)
	for _, i := range dirDeletes {
		act := plan.Actions[i]

		if err := ctx.Err(); err != nil {
			results[i].Err = err

			continue
		}

		results[i].Err = prog.applyDirDelete(act)
	}

	return results
}

func (prog *Program) applyDirCreate(act Action) error {
	target := targetPath(act)

	if info, err := prog.fs.Stat(target); err == nil && !info.IsDir() {
		if err := prog.fs.Remove(target); err != nil {
			return fmt.Errorf("failed to replace file with directory: %w", err)
		}
	}

	if err := prog.fs.MkdirAll(target, baseFolderPerms); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	prog.log.Debug("created directory", "path", act.Path, "root", act.TargetRoot)

	return nil
}

func (prog *Program) applyFileCopy(act Action) error {
	source := filepath.Join(act.SourceRoot, filepath.FromSlash(act.Path))
	target := targetPath(act)

	// Safety net for files whose parent creation failed or raced.
	if err := prog.fs.MkdirAll(filepath.Dir(target), baseFolderPerms); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	if info, err := prog.fs.Stat(target); err == nil && info.IsDir() {
		if err := prog.fs.RemoveAll(target); err != nil {
			return fmt.Errorf("failed to replace directory with file: %w", err)
		}
	}

	if err := prog.copyAtomic(source, target, act); err != nil {
		return err
	}

	prog.log.Debug("copied file", "path", act.Path, "root", act.TargetRoot, "bytes", act.Size)

	return nil
}

// copyAtomic writes the source contents to a temporary sibling of the target
// and renames it into place. On any failure the temporary file is removed,
// leaving the target untouched.
func (prog *Program) copyAtomic(source, target string, act Action) error {
	in, err := prog.fs.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	tmp := target + tmpSuffix

	out, err := prog.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = prog.fs.Remove(tmp)

		return fmt.Errorf("failed to copy contents: %w", err)
	}

	if err := out.Close(); err != nil {
		_ = prog.fs.Remove(tmp)

		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	// Carrying the source timestamp over keeps bi-directional comparisons
	// stable across cycles.
	if !act.ModTime.IsZero() {
		_ = prog.fs.Chtimes(tmp, act.ModTime, act.ModTime)
	}

	if err := prog.fs.Rename(tmp, target); err != nil {
		// Not every filesystem renames over an existing target (Windows,
		// some afero backends); retry once with the target removed.
		_ = prog.fs.Remove(target)

		if err := prog.fs.Rename(tmp, target); err != nil {
			_ = prog.fs.Remove(tmp)

			return fmt.Errorf("failed to rename into place: %w", err)
		}
	}

	return nil
}

// applyFileDelete removes a single file. A target that is already gone, for
// example cleared away by an overlapping type-change replacement, counts as
// deleted.
func (prog *Program) applyFileDelete(act Action) error {
	if err := prog.fs.Remove(targetPath(act)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	prog.log.Debug("deleted file", "path", act.Path, "root", act.TargetRoot)

	return nil
}

// applyDirDelete removes a single directory. It deliberately does not remove
// recursively: the contents were deleted in the file phase, and a directory
// still holding entries (for example excluded files) is left in place. An
// already vanished directory counts as deleted.
func (prog *Program) applyDirDelete(act Action) error {
	if err := prog.fs.Remove(targetPath(act)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete directory: %w", err)
	}

	prog.log.Debug("deleted directory", "path", act.Path, "root", act.TargetRoot)

	return nil
}

func targetPath(act Action) string {
	return filepath.Join(act.TargetRoot, filepath.FromSlash(act.Path))
}
