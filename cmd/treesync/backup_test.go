package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// A helper function for tests to read back a backup tarball's names and contents.
func readTarball(t *testing.T, fs afero.Fs, path string) ([]string, map[string]string) {
	t.Helper()

	f, err := fs.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	require.NoError(t, err)

	tr := tar.NewReader(gzr)

	var names []string
	contents := map[string]string{}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		data, err := io.ReadAll(tr)
		require.NoError(t, err)

		names = append(names, hdr.Name)
		contents[hdr.Name] = string(data)
	}

	return names, contents
}

// Expectation: Only updates and deletions of existing files should be archived.
func Test_Program_WriteBackup_Success(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, afero.WriteFile(fs, "/dst/old.txt", []byte("replace me"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dst/gone.txt", []byte("delete me"), 0o644))

	plan := &Plan{
		Actions: []Action{
			{Kind: ActionCreate, Path: "new.txt", SourceRoot: "/src", TargetRoot: "/dst"},
			{Kind: ActionUpdate, Path: "old.txt", SourceRoot: "/src", TargetRoot: "/dst"},
			{Kind: ActionDelete, Path: "gone.txt", TargetRoot: "/dst"},
			{Kind: ActionDelete, Path: "missing.txt", TargetRoot: "/dst"},
			{Kind: ActionCreate, Path: "somedir", TargetRoot: "/dst", IsDir: true},
		},
	}

	prog := NewProgram(fs, io.Discard, io.Discard, nil, nil, nil)
	require.NoError(t, prog.writeBackup(t.Context(), plan, "/backups"))

	entries, err := afero.ReadDir(fs, "/backups")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	names, contents := readTarball(t, fs, "/backups/"+entries[0].Name())
	require.ElementsMatch(t, []string{"old.txt", "gone.txt"}, names)
	require.Equal(t, "replace me", contents["old.txt"])
	require.Equal(t, "delete me", contents["gone.txt"])
}

// Expectation: A plan without replaced or removed content should produce no backup file.
func Test_Program_WriteBackup_NothingToArchive_Success(t *testing.T) {
	fs := afero.NewMemMapFs()

	plan := &Plan{
		Actions: []Action{
			{Kind: ActionCreate, Path: "new.txt", SourceRoot: "/src", TargetRoot: "/dst"},
		},
	}

	prog := NewProgram(fs, io.Discard, io.Discard, nil, nil, nil)
	require.NoError(t, prog.writeBackup(t.Context(), plan, "/backups"))

	exists, err := afero.DirExists(fs, "/backups")
	require.NoError(t, err)
	require.False(t, exists)
}

// Expectation: A deletion target that vanished between plan and backup should be skipped, not fail.
func Test_Program_WriteBackup_MissingTarget_Success(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, afero.WriteFile(fs, "/dst/kept.txt", []byte("kept"), 0o644))

	plan := &Plan{
		Actions: []Action{
			{Kind: ActionDelete, Path: "vanished.txt", TargetRoot: "/dst"},
			{Kind: ActionUpdate, Path: "kept.txt", SourceRoot: "/src", TargetRoot: "/dst"},
		},
	}

	prog := NewProgram(fs, io.Discard, io.Discard, nil, nil, nil)
	require.NoError(t, prog.writeBackup(t.Context(), plan, "/backups"))

	entries, err := afero.ReadDir(fs, "/backups")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	names, _ := readTarball(t, fs, "/backups/"+entries[0].Name())
	require.Equal(t, []string{"kept.txt"}, names)
}

// Expectation: An empty-after-skips backup should leave no file behind.
func Test_Program_WriteBackup_AllTargetsMissing_Success(t *testing.T) {
	fs := afero.NewMemMapFs()

	plan := &Plan{
		Actions: []Action{
			{Kind: ActionDelete, Path: "vanished.txt", TargetRoot: "/dst"},
		},
	}

	prog := NewProgram(fs, io.Discard, io.Discard, nil, nil, nil)
	require.NoError(t, prog.writeBackup(t.Context(), plan, "/backups"))

	empty, err := afero.IsEmpty(fs, "/backups")
	require.NoError(t, err)
	require.True(t, empty)
}

// Expectation: An invalid compressor configuration should raise an error and leave no backup file.
func Test_Program_WriteBackup_InvalidConfig_Error(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, afero.WriteFile(fs, "/dst/old.txt", []byte("x"), 0o644))

	plan := &Plan{
		Actions: []Action{
			{Kind: ActionDelete, Path: "old.txt", TargetRoot: "/dst"},
		},
	}

	cfg := gzipConfigDefault
	cfg.CompressionLevel = -17

	prog := NewProgram(fs, io.Discard, io.Discard, nil, &cfg, nil)
	require.Error(t, prog.writeBackup(t.Context(), plan, "/backups"))

	empty, err := afero.IsEmpty(fs, "/backups")
	require.NoError(t, err)
	require.True(t, empty)
}

// Expectation: A context cancellation should be respected and the backup file removed.
func Test_Program_WriteBackup_CtxCancel_Error(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, afero.WriteFile(fs, "/dst/old.txt", []byte("x"), 0o644))

	plan := &Plan{
		Actions: []Action{
			{Kind: ActionDelete, Path: "old.txt", TargetRoot: "/dst"},
		},
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	prog := NewProgram(fs, io.Discard, io.Discard, nil, nil, nil)
	require.ErrorIs(t, prog.writeBackup(ctx, plan, "/backups"), context.Canceled)

	empty, err := afero.IsEmpty(fs, "/backups")
	require.NoError(t, err)
	require.True(t, empty)
}
