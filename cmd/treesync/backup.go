package main

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	pgzip "github.com/klauspost/pgzip"
)

// writeBackup archives the current contents of every destination-side file
// the plan is about to overwrite or delete into a timestamped tarball under
// backupDir. Directories need no backup; a path that no longer exists at
// backup time is skipped.
//
// The tarball is only kept when at least one file was archived; on failure
// or an effectively empty backup it is removed again.
func (prog *Program) writeBackup(ctx context.Context, plan *Plan, backupDir string) error {
	var backupDone bool

	targets := backupTargets(plan)
	if len(targets) == 0 {
		return nil
	}

	if err := prog.fs.MkdirAll(backupDir, baseFolderPerms); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	output := filepath.Join(backupDir, fmt.Sprintf("treesync-backup-%s.tar.gz", time.Now().Format("20060102-150405.000000000")))

	out, err := prog.fs.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	defer func() {
		if !backupDone {
			_ = prog.fs.Remove(output)
		}
	}()
	defer out.Close()

	gw, err := pgzip.NewWriterLevel(out, prog.gzipConfig.CompressionLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize gzip writer: %w", err)
	}
	defer gw.Close()

	if err := gw.SetConcurrency(prog.gzipConfig.BlockSize, prog.gzipConfig.BlockCount); err != nil {
		return fmt.Errorf("failed to set gzip writer settings: %w", err)
	}

	tw := tar.NewWriter(gw)
	defer tw.Close()

	var archived int

	for _, act := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}

		target := targetPath(act)

		info, err := prog.fs.Stat(target)
		if err != nil || info.IsDir() {
			continue // nothing to preserve
		}

		if err := prog.archiveFile(tw, target, act.Path, info.Size(), info.ModTime()); err != nil {
			return fmt.Errorf("failed to archive file: %w", err)
		}
		archived++
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize backup: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("failed to finalize backup: %w", err)
	}

	if archived == 0 {
		return nil
	}

	backupDone = true
	prog.log.Info("backup written", "file", output, "entries", archived)

	return nil
}

// backupTargets returns the plan's actions that will replace or remove
// existing file content, in plan order.
func backupTargets(plan *Plan) []Action {
	var targets []Action

	for _, act := range plan.Actions {
		if act.IsDir {
			continue
		}

		if act.Kind == ActionUpdate || act.Kind == ActionDelete {
			targets = append(targets, act)
		}
	}

	return targets
}

func (prog *Program) archiveFile(tw *tar.Writer, target, name string, size int64, modTime time.Time) error {
	f, err := prog.fs.Open(target)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	hdr := &tar.Header{
		Name:     filepath.ToSlash(name),
		Mode:     baseFilePerms,
		Size:     size,
		ModTime:  modTime,
		Typeflag: tar.TypeReg,
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}

	if _, err := io.CopyN(tw, f, size); err != nil {
		return fmt.Errorf("failed to write tar contents: %w", err)
	}

	return nil
}
