package main

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/lanrat/extsort"
	"github.com/spf13/afero"
)

// GzipConfig is the configuration for concurrent gzip operations.
type GzipConfig struct {
	BlockSize        int // Approximate size of blocks (pgzip operations)
	BlockCount       int // Amount of blocks processing in parallel (pgzip operations)
	CompressionLevel int // Target level for compression (0: none to 9: highest)
}

// Walker is an interface describing a filesystem walking function.
type Walker interface {
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// AferoWalker is an adapter to turn the [afero.Walk] into a [filepath.WalkDir] signature.
type AferoWalker struct {
	FS afero.Fs
}

// WalkDir is a method that adapts [afero.Walk] into a [filepath.WalkDir] compatible signature.
func (w AferoWalker) WalkDir(root string, fn fs.WalkDirFunc) error {
	return afero.Walk(w.FS, root, func(path string, info fs.FileInfo, err error) error { //nolint:wrapcheck
		var entry fs.DirEntry
		if info != nil {
			entry = fileInfoDirEntry{info}
		}

		return fn(path, entry, err)
	})
}

// OSWalker is a wrapper structure for the native [filepath.WalkDir] function.
type OSWalker struct{}

// WalkDir is a wrapper method for the native [filepath.WalkDir] function.
func (w OSWalker) WalkDir(root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, fn)
}

type fileInfoDirEntry struct {
	fs.FileInfo
}

func (fi fileInfoDirEntry) Type() fs.FileMode {
	return fi.Mode().Type()
}

func (fi fileInfoDirEntry) Info() (fs.FileInfo, error) {
	return fi.FileInfo, nil
}

func (fi fileInfoDirEntry) IsDir() bool {
	return fi.Mode().IsDir()
}

func (fi fileInfoDirEntry) Name() string {
	return fi.FileInfo.Name()
}

func isExcluded(path string, isDir bool, excludes []string) (bool, error) {
	path = filepath.ToSlash(filepath.Clean(path))

	for _, rawPattern := range excludes {
		pattern := filepath.ToSlash(rawPattern)

		needDirMatch := strings.HasSuffix(pattern, "/")
		pattern = strings.TrimPrefix(strings.TrimSuffix(pattern, "/"), "/")

		matched, err := doublestar.Match(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid exclude pattern: %w", err)
		}
		if matched {
			if needDirMatch && !isDir {
				continue
			}

			return true, nil
		}
	}

	return false, nil
}

func (prog *Program) mergeExcludes(excludeSlice []string, excludeFile string) ([]string, error) {
	excludes := []string{}

	if excludeFile != "" {
		file, err := prog.fs.Open(excludeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open exclude file: %w", err)
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			excludes = append(excludes, line)
		}

		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed reading exclude file: %w", err)
		}
	}

	excludes = append(excludes, excludeSlice...)

	return excludes, nil
}

// extsortStrings wraps [extsort.Strings] for internal use.
//
// It merges two possible error sources into a single channel:
//  1. Runtime sorting errors - any errors raised while sorting proceeds.
//  2. extErrs (optional) - errors from non-sorting work such as tree-walking.
//
// Do note that only the first error observed from these sources is sent downstream.
func extsortStrings(ctx context.Context, input <-chan string, extErrs <-chan error, config *extsort.Config) (<-chan string, <-chan error) {
	sorter, sorterOut, sorterErrs := extsort.Strings(input, config)

	if sorter != nil {
		go sorter.Sort(ctx)
	}

	mergedErrs := make(chan error, 1)
	go func() {
		defer close(mergedErrs)

		for extErrs != nil || sorterErrs != nil {
			select {
			case err, ok := <-extErrs:
				if ok && err != nil {
					mergedErrs <- err

					return
				}
				extErrs = nil // channel closed, disable case.

			case err, ok := <-sorterErrs:
				if ok && err != nil {
					mergedErrs <- err

					return
				}
				sorterErrs = nil // channel closed, disable case.
			}
		}
	}()

	return sorterOut, mergedErrs
}
