package main

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ActionKind enumerates the filesystem operations a plan can contain.
type ActionKind int

const (
	// ActionCreate materializes a path that is absent on the target side.
	ActionCreate ActionKind = iota

	// ActionUpdate replaces the contents of a path that differs between sides.
	ActionUpdate

	// ActionDelete removes an orphaned path from the target side.
	ActionDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Action is a single planned filesystem operation.
//
// SourceRoot is the root to copy contents from and is empty for deletions.
// TargetRoot is the root the action applies into; in bi-directional mode
// either side can be the target. Size and ModTime mirror the source record
// for copies, so the applier can preserve timestamps and report volume.
type Action struct {
	Kind       ActionKind
	Path       string // relative, slash-separated
	SourceRoot string
	TargetRoot string
	IsDir      bool
	Size       int64
	ModTime    time.Time
}

// Conflict is a bi-directional mismatch that cannot be resolved
// deterministically: both sides carry differing contents under an identical
// modification timestamp. Conflicts are surfaced, never applied.
type Conflict struct {
	Path         string
	ModTime      time.Time
	SourceDigest string
	DestDigest   string
}

// Plan is the ordered action set of one sync cycle, as produced by
// [BuildPlan] and consumed exactly once by the applier.
type Plan struct {
	Actions   []Action
	Conflicts []Conflict
}

// Empty reports whether the plan contains neither actions nor conflicts.
func (p *Plan) Empty() bool {
	return len(p.Actions) == 0 && len(p.Conflicts) == 0
}

// CopyBytes returns the total content volume the plan's copies would move.
func (p *Plan) CopyBytes() int64 {
	var total int64
	for _, act := range p.Actions {
		if act.Kind != ActionDelete && !act.IsDir {
			total += act.Size
		}
	}

	return total
}

// BuildPlan compares two inventories and produces the minimal action set
// converging the destination toward the source (one-way) or both sides
// toward each other (bi-directional).
//
// One-way emits Create/Update into the destination for every path absent or
// differing there and, with deleteOrphans, Delete for every destination path
// absent from the source. Bi-directional emits Create for one-sided paths
// and resolves both-present content mismatches by the newer modification
// time; identical timestamps over differing contents become a [Conflict].
// Equal digests never produce an action. A path whose record is marked
// unreadable on either side produces no action at all, so a read error never
// turns into a copy or a deletion of the surviving copy. The result contains
// at most one action per path and is sorted for deterministic application.
func BuildPlan(src, dst Inventory, srcRoot, dstRoot string, mode Mode, deleteOrphans bool) *Plan {
	plan := &Plan{}

	for path, srcRec := range src {
		dstRec, ok := dst[path]
		if srcRec.Unreadable || (ok && dstRec.Unreadable) {
			continue
		}

		if !ok {
			plan.Actions = append(plan.Actions, copyAction(ActionCreate, srcRec, srcRoot, dstRoot))

			continue
		}

		switch mode {
		case ModeOneWay:
			if recordsDiffer(srcRec, dstRec) {
				plan.Actions = append(plan.Actions, copyAction(ActionUpdate, srcRec, srcRoot, dstRoot))
			}
		case ModeBiDirectional:
			if !recordsDiffer(srcRec, dstRec) {
				continue
			}

			switch {
			case srcRec.ModTime.After(dstRec.ModTime):
				plan.Actions = append(plan.Actions, copyAction(ActionUpdate, srcRec, srcRoot, dstRoot))
			case dstRec.ModTime.After(srcRec.ModTime):
				plan.Actions = append(plan.Actions, copyAction(ActionUpdate, dstRec, dstRoot, srcRoot))
			default:
				plan.Conflicts = append(plan.Conflicts, Conflict{
					Path:         path,
					ModTime:      srcRec.ModTime,
					SourceDigest: srcRec.Digest,
					DestDigest:   dstRec.Digest,
				})
			}
		}
	}

	for path, dstRec := range dst {
		if _, ok := src[path]; ok || dstRec.Unreadable {
			continue
		}

		switch mode {
		case ModeOneWay:
			if deleteOrphans {
				plan.Actions = append(plan.Actions, Action{
					Kind:       ActionDelete,
					Path:       path,
					TargetRoot: dstRoot,
					IsDir:      dstRec.IsDir,
				})
			}
		case ModeBiDirectional:
			plan.Actions = append(plan.Actions, copyAction(ActionCreate, dstRec, dstRoot, srcRoot))
		}
	}

	slices.SortFunc(plan.Actions, compareActions)
	slices.SortFunc(plan.Conflicts, func(a, b Conflict) int {
		return strings.Compare(a.Path, b.Path)
	})

	return plan
}

// recordsDiffer reports whether two same-path records require convergence.
// Directories never differ from each other; a type change always differs.
func recordsDiffer(a, b *FileRecord) bool {
	if a.IsDir != b.IsDir {
		return true
	}
	if a.IsDir {
		return false
	}

	return a.Digest != b.Digest
}

func copyAction(kind ActionKind, rec *FileRecord, sourceRoot, targetRoot string) Action {
	return Action{
		Kind:       kind,
		Path:       rec.Path,
		SourceRoot: sourceRoot,
		TargetRoot: targetRoot,
		IsDir:      rec.IsDir,
		Size:       rec.Size,
		ModTime:    rec.ModTime,
	}
}

func compareActions(a, b Action) int {
	if c := strings.Compare(a.Path, b.Path); c != 0 {
		return c
	}

	return strings.Compare(a.TargetRoot, b.TargetRoot)
}

// describe renders an action for plan output, marking the target side when
// the action flows against the usual source-to-destination direction.
func (a Action) describe(srcRoot string) string {
	var prefix string

	switch a.Kind {
	case ActionCreate:
		prefix = "+++"
	case ActionUpdate:
		prefix = "~~~"
	case ActionDelete:
		prefix = "---"
	}

	if a.TargetRoot == srcRoot {
		return fmt.Sprintf("%s %s (into source)", prefix, a.Path)
	}

	return fmt.Sprintf("%s %s", prefix, a.Path)
}
