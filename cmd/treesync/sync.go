package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Mode is the synchronization direction of a run.
type Mode int

const (
	// ModeOneWay converges the destination toward the source.
	ModeOneWay Mode = iota

	// ModeBiDirectional converges both sides toward each other.
	ModeBiDirectional
)

func (m Mode) String() string {
	switch m {
	case ModeOneWay:
		return "one-way"
	case ModeBiDirectional:
		return "bi-directional"
	default:
		return "unknown"
	}
}

// parseMode resolves a mode argument, accepting the long spellings as well
// as the short ones historically used by the tool.
func parseMode(arg string) (Mode, error) {
	switch arg {
	case "one-way", "one":
		return ModeOneWay, nil
	case "bi-directional", "bi":
		return ModeBiDirectional, nil
	default:
		return 0, fmt.Errorf("invalid mode %q (expected one-way or bi-directional)", arg)
	}
}

// SyncConfig is the resolved, immutable configuration of one sync run.
type SyncConfig struct {
	Source        string
	Destination   string
	Mode          Mode
	DeleteOrphans bool
	Continuous    bool
	Interval      time.Duration
	Watch         bool
	DryRun        bool
	BackupDir     string
	Excludes      []string
	Workers       int
}

// loopState is the current phase of a [Syncer]'s run.
type loopState int

const (
	stateIdle loopState = iota
	stateScanning
	stateDiffing
	stateApplying
	stateWaiting
	stateStopped
)

func (s loopState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateScanning:
		return "scanning"
	case stateDiffing:
		return "diffing"
	case stateApplying:
		return "applying"
	case stateWaiting:
		return "waiting"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CycleResult summarizes one completed scan-diff-apply cycle.
type CycleResult struct {
	Plan        *Plan
	Results     []ApplyResult
	BytesCopied int64
	Failed      int
	Duration    time.Duration
}

// Syncer drives repeated scan-diff-apply cycles over one source and
// destination pair. It owns the two tree scanners, so digest reuse carries
// across cycles of a continuous run.
type Syncer struct {
	prog  *Program
	cfg   *SyncConfig
	state loopState

	srcScan *Scanner
	dstScan *Scanner
}

// NewSyncer validates the configuration and returns a ready [Syncer].
//
// The source must be an existing directory. In one-way mode a missing
// destination is created; in bi-directional mode it must already exist.
// Configuration errors returned here are fatal and abort before any loop
// starts.
func NewSyncer(prog *Program, cfg *SyncConfig) (*Syncer, error) {
	if cfg.Source == "" || cfg.Destination == "" {
		return nil, errors.New("source and destination are required")
	}

	info, err := prog.fs.Stat(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("unreadable source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root is not a directory: %s", cfg.Source)
	}

	switch cfg.Mode {
	case ModeOneWay:
		if !cfg.DryRun {
			if err := prog.fs.MkdirAll(cfg.Destination, baseFolderPerms); err != nil {
				return nil, fmt.Errorf("failed to create destination root: %w", err)
			}
		}
	case ModeBiDirectional:
		if cfg.DeleteOrphans {
			return nil, errors.New("delete-orphans cannot be combined with bi-directional mode")
		}

		info, err := prog.fs.Stat(cfg.Destination)
		if err != nil {
			return nil, fmt.Errorf("unreadable destination root: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("destination root is not a directory: %s", cfg.Destination)
		}
	}

	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return &Syncer{
		prog:    prog,
		cfg:     cfg,
		state:   stateIdle,
		srcScan: NewScanner(prog, cfg.Source, cfg.Workers),
		dstScan: NewScanner(prog, cfg.Destination, cfg.Workers),
	}, nil
}

func (s *Syncer) setState(state loopState) {
	s.state = state
	s.prog.log.Debug("state transition", "state", state.String())
}

// Plan scans both trees and returns the pending action set without applying
// anything.
func (s *Syncer) Plan(ctx context.Context) (*Plan, error) {
	s.setState(stateScanning)

	src, err := s.srcScan.Scan(ctx, s.cfg.Excludes)
	if err != nil {
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}

	dst, err := s.dstScan.Scan(ctx, s.cfg.Excludes)
	if err != nil {
		if s.cfg.Mode == ModeOneWay && s.cfg.DryRun {
			dst = make(Inventory) // destination may not exist yet
		} else {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}
	}

	s.setState(stateDiffing)

	return BuildPlan(src, dst, s.cfg.Source, s.cfg.Destination, s.cfg.Mode, s.cfg.DeleteOrphans), nil
}

// RunOnce performs a single scan-diff-apply cycle and returns its summary.
func (s *Syncer) RunOnce(ctx context.Context) (*CycleResult, error) {
	tstart := time.Now()

	plan, err := s.Plan(ctx)
	if err != nil {
		return nil, err
	}

	for _, conflict := range plan.Conflicts {
		s.prog.log.Warn("conflict not applied",
			"path", conflict.Path,
			"modtime", conflict.ModTime,
			"source", conflict.SourceDigest,
			"destination", conflict.DestDigest,
		)
	}

	cycle := &CycleResult{Plan: plan}

	if s.cfg.DryRun {
		s.printPlan(plan)
		cycle.Duration = time.Since(tstart)

		s.prog.log.Info("dry run complete",
			"actions", len(plan.Actions),
			"planned", humanize.Bytes(uint64(plan.CopyBytes())), //nolint:gosec
			"conflicts", len(plan.Conflicts),
		)

		return cycle, nil
	}

	if s.cfg.BackupDir != "" && !plan.Empty() {
		if err := s.prog.writeBackup(ctx, plan, s.cfg.BackupDir); err != nil {
			return nil, fmt.Errorf("failed to write backup: %w", err)
		}
	}

	s.setState(stateApplying)
	cycle.Results = s.prog.Apply(ctx, plan, s.cfg.Workers)

	for _, res := range cycle.Results {
		switch {
		case res.Err != nil:
			cycle.Failed++
			s.prog.log.Warn("action failed", "action", res.Action.Kind.String(), "path", res.Action.Path, "error", res.Err)
		case res.Action.Kind != ActionDelete && !res.Action.IsDir:
			cycle.BytesCopied += res.Action.Size
		}
	}

	cycle.Duration = time.Since(tstart)

	s.prog.log.Info("cycle complete",
		"actions", len(plan.Actions),
		"copied", humanize.Bytes(uint64(cycle.BytesCopied)), //nolint:gosec
		"conflicts", len(plan.Conflicts),
		"failed", cycle.Failed,
		"duration", cycle.Duration.Round(time.Millisecond),
	)

	return cycle, nil
}

// Run drives the syncer until the context is canceled (continuous mode) or
// one cycle completes (single-run mode).
//
// Continuous cycles are paced by a timer that only rearms after a cycle
// finishes, so an overrunning cycle never queues follow-up ticks. In watch
// mode filesystem events also trip the next cycle. Cycle-level failures are
// logged and the loop continues; only cancellation ends a continuous run.
func (s *Syncer) Run(ctx context.Context) error {
	var triggers <-chan struct{}

	if s.cfg.Watch && s.cfg.Continuous {
		watcher, err := s.watchRoots(ctx)
		if err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer watcher.Close()

		triggers = watcher.Triggers()
	}

	cycle, err := s.RunOnce(ctx)
	if !s.cfg.Continuous {
		s.setState(stateStopped)

		if err != nil {
			return err
		}
		if cycle.Failed > 0 {
			return fmt.Errorf("%d action(s) failed", cycle.Failed)
		}

		return nil
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		s.prog.log.Error("sync cycle failed", "error", err)
	}

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		s.setState(stateWaiting)

		select {
		case <-ctx.Done():
			s.setState(stateStopped)

			return nil
		case <-triggers:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.prog.log.Error("sync cycle failed", "error", err)
		}

		timer.Reset(s.cfg.Interval)
	}
}

// watchRoots watches the source tree and, in bi-directional mode, the
// destination tree as well.
func (s *Syncer) watchRoots(ctx context.Context) (*TreeWatcher, error) {
	roots := []string{s.cfg.Source}
	if s.cfg.Mode == ModeBiDirectional {
		roots = append(roots, s.cfg.Destination)
	}

	return NewTreeWatcher(ctx, s.prog, roots)
}

// printPlan writes the pending actions and conflicts to standard output.
func (s *Syncer) printPlan(plan *Plan) {
	for _, act := range plan.Actions {
		fmt.Fprintln(s.prog.stdout, act.describe(s.cfg.Source))
	}

	for _, conflict := range plan.Conflicts {
		fmt.Fprintf(s.prog.stdout, "!!! %s (conflict, equal modification times)\n", conflict.Path)
	}
}
