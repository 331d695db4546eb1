package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func record(path string, digest string, mtime time.Time) *FileRecord {
	return &FileRecord{
		Path:    path,
		Size:    int64(len(digest)),
		ModTime: mtime,
		Digest:  digest,
	}
}

func dirRecord(path string, mtime time.Time) *FileRecord {
	return &FileRecord{
		Path:    path,
		ModTime: mtime,
		IsDir:   true,
	}
}

// Expectation: A source-only path should produce a single create into the destination.
func Test_BuildPlan_OneWay_Create_Success(t *testing.T) {
	now := time.Now()

	src := Inventory{"a.txt": record("a.txt", "h1", now)}
	dst := Inventory{}

	plan := BuildPlan(src, dst, "/src", "/dst", ModeOneWay, false)

	require.Len(t, plan.Actions, 1)
	require.Empty(t, plan.Conflicts)

	act := plan.Actions[0]
	require.Equal(t, ActionCreate, act.Kind)
	require.Equal(t, "a.txt", act.Path)
	require.Equal(t, "/src", act.SourceRoot)
	require.Equal(t, "/dst", act.TargetRoot)
}

// Expectation: A differing digest should produce an update into the destination.
func Test_BuildPlan_OneWay_Update_Success(t *testing.T) {
	now := time.Now()

	src := Inventory{"a.txt": record("a.txt", "h1", now)}
	dst := Inventory{"a.txt": record("a.txt", "h2", now)}

	plan := BuildPlan(src, dst, "/src", "/dst", ModeOneWay, false)

	require.Len(t, plan.Actions, 1)
	require.Equal(t, ActionUpdate, plan.Actions[0].Kind)
}

// Expectation: Equal digests should produce no action at all.
func Test_BuildPlan_OneWay_EqualDigests_NoAction(t *testing.T) {
	src := Inventory{"a.txt": record("a.txt", "h1", time.Now())}
	dst := Inventory{"a.txt": record("a.txt", "h1", time.Now().Add(-time.Hour))}

	plan := BuildPlan(src, dst, "/src", "/dst", ModeOneWay, false)

	require.True(t, plan.Empty())
}

// Expectation: Orphans should only be deleted when the flag is set.
func Test_BuildPlan_OneWay_DeleteOrphans_Success(t *testing.T) {
	now := time.Now()

	src := Inventory{}
	dst := Inventory{"b.txt": record("b.txt", "h1", now)}

	plan := BuildPlan(src, dst, "/src", "/dst", ModeOneWay, false)
	require.True(t, plan.Empty())

	plan = BuildPlan(src, dst, "/src", "/dst", ModeOneWay, true)
	require.Len(t, plan.Actions, 1)
	require.Equal(t, ActionDelete, plan.Actions[0].Kind)
	require.Equal(t, "b.txt", plan.Actions[0].Path)
	require.Equal(t, "/dst", plan.Actions[0].TargetRoot)
}

// Expectation: Identical inventories should plan nothing (idempotence).
func Test_BuildPlan_Idempotence_Success(t *testing.T) {
	now := time.Now()

	src := Inventory{
		"a.txt":   record("a.txt", "h1", now),
		"b":       dirRecord("b", now),
		"b/c.txt": record("b/c.txt", "h2", now),
	}
	dst := Inventory{
		"a.txt":   record("a.txt", "h1", now.Add(time.Minute)),
		"b":       dirRecord("b", now),
		"b/c.txt": record("b/c.txt", "h2", now),
	}

	for _, mode := range []Mode{ModeOneWay, ModeBiDirectional} {
		plan := BuildPlan(src, dst, "/src", "/dst", mode, mode == ModeOneWay)
		require.True(t, plan.Empty(), "mode %s", mode)
	}
}

// Expectation: One-sided paths should be created on the missing side, in both directions.
func Test_BuildPlan_BiDirectional_Creates_Success(t *testing.T) {
	now := time.Now()

	src := Inventory{"only-src.txt": record("only-src.txt", "h1", now)}
	dst := Inventory{"only-dst.txt": record("only-dst.txt", "h2", now)}

	plan := BuildPlan(src, dst, "/src", "/dst", ModeBiDirectional, false)

	require.Len(t, plan.Actions, 2)
	require.Empty(t, plan.Conflicts)

	require.Equal(t, "only-dst.txt", plan.Actions[0].Path)
	require.Equal(t, "/src", plan.Actions[0].TargetRoot)

	require.Equal(t, "only-src.txt", plan.Actions[1].Path)
	require.Equal(t, "/dst", plan.Actions[1].TargetRoot)
}

// Expectation: The newer modification time should win a bi-directional mismatch.
func Test_BuildPlan_BiDirectional_NewerWins_Success(t *testing.T) {
	older := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	src := Inventory{"a.txt": record("a.txt", "h-old", older)}
	dst := Inventory{"a.txt": record("a.txt", "h-new", newer)}

	plan := BuildPlan(src, dst, "/src", "/dst", ModeBiDirectional, false)

	require.Len(t, plan.Actions, 1)
	require.Empty(t, plan.Conflicts)

	act := plan.Actions[0]
	require.Equal(t, ActionUpdate, act.Kind)
	require.Equal(t, "/dst", act.SourceRoot)
	require.Equal(t, "/src", act.TargetRoot)
}

// Expectation: A conflict should be emitted if and only if differing digests share an identical timestamp.
func Test_BuildPlan_BiDirectional_Conflict_Success(t *testing.T) {
	tie := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	src := Inventory{"a.txt": record("a.txt", "h1", tie)}
	dst := Inventory{"a.txt": record("a.txt", "h2", tie)}

	plan := BuildPlan(src, dst, "/src", "/dst", ModeBiDirectional, false)

	require.Empty(t, plan.Actions)
	require.Len(t, plan.Conflicts, 1)

	conflict := plan.Conflicts[0]
	require.Equal(t, "a.txt", conflict.Path)
	require.Equal(t, "h1", conflict.SourceDigest)
	require.Equal(t, "h2", conflict.DestDigest)
}

// Expectation: Equal digests under equal timestamps are no conflict.
func Test_BuildPlan_BiDirectional_EqualDigests_NoConflict(t *testing.T) {
	tie := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	src := Inventory{"a.txt": record("a.txt", "h1", tie)}
	dst := Inventory{"a.txt": record("a.txt", "h1", tie)}

	plan := BuildPlan(src, dst, "/src", "/dst", ModeBiDirectional, false)

	require.True(t, plan.Empty())
}

// Expectation: The action set should be sorted and contain at most one action per path.
func Test_BuildPlan_Deterministic_Success(t *testing.T) {
	now := time.Now()

	src := Inventory{
		"z.txt": record("z.txt", "h1", now),
		"a.txt": record("a.txt", "h2", now),
		"m":     dirRecord("m", now),
	}
	dst := Inventory{}

	first := BuildPlan(src, dst, "/src", "/dst", ModeOneWay, false)
	second := BuildPlan(src, dst, "/src", "/dst", ModeOneWay, false)

	require.Equal(t, first.Actions, second.Actions)

	seen := map[string]bool{}
	for _, act := range first.Actions {
		require.False(t, seen[act.Path], "duplicate action for %s", act.Path)
		seen[act.Path] = true
	}

	require.Equal(t, "a.txt", first.Actions[0].Path)
	require.Equal(t, "m", first.Actions[1].Path)
	require.Equal(t, "z.txt", first.Actions[2].Path)
}

// Expectation: An unreadable record on either side should produce no action for that path.
func Test_BuildPlan_UnreadablePaths_NoActions(t *testing.T) {
	now := time.Now()

	// Unreadable source copy must not orphan-delete the intact destination copy.
	src := Inventory{"a.txt": {Path: "a.txt", ModTime: now, Unreadable: true}}
	dst := Inventory{"a.txt": record("a.txt", "h1", now)}

	plan := BuildPlan(src, dst, "/src", "/dst", ModeOneWay, true)
	require.True(t, plan.Empty())

	// Unreadable destination copy must not be overwritten blind.
	src = Inventory{"a.txt": record("a.txt", "h1", now)}
	dst = Inventory{"a.txt": {Path: "a.txt", ModTime: now, Unreadable: true}}

	plan = BuildPlan(src, dst, "/src", "/dst", ModeOneWay, false)
	require.True(t, plan.Empty())

	// Unreadable destination orphan must not be deleted.
	src = Inventory{}
	dst = Inventory{"b.txt": {Path: "b.txt", Unreadable: true}}

	plan = BuildPlan(src, dst, "/src", "/dst", ModeOneWay, true)
	require.True(t, plan.Empty())

	// Bi-directional: an unreadable one-sided path is not copied anywhere.
	src = Inventory{"c.txt": {Path: "c.txt", Unreadable: true}}
	dst = Inventory{}

	plan = BuildPlan(src, dst, "/src", "/dst", ModeBiDirectional, false)
	require.True(t, plan.Empty())
}

// Expectation: Copy volume should count file creates and updates only.
func Test_Plan_CopyBytes_Success(t *testing.T) {
	plan := &Plan{Actions: []Action{
		{Kind: ActionCreate, Path: "a", Size: 5},
		{Kind: ActionUpdate, Path: "b", Size: 7},
		{Kind: ActionDelete, Path: "c", Size: 100},
		{Kind: ActionCreate, Path: "d", IsDir: true, Size: 3},
	}}

	require.Equal(t, int64(12), plan.CopyBytes())
}

// Expectation: A type change between file and directory should plan an update.
func Test_BuildPlan_TypeChange_Update_Success(t *testing.T) {
	now := time.Now()

	src := Inventory{"thing": dirRecord("thing", now)}
	dst := Inventory{"thing": record("thing", "h1", now)}

	plan := BuildPlan(src, dst, "/src", "/dst", ModeOneWay, false)

	require.Len(t, plan.Actions, 1)
	require.Equal(t, ActionUpdate, plan.Actions[0].Kind)
	require.True(t, plan.Actions[0].IsDir)
}
