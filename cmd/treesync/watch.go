package main

import (
	"context"
	"io/fs"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// TreeWatcher watches one or more directory trees and coalesces any change
// notifications into a single trigger channel.
//
// fsnotify does not watch recursively, so every directory under the given
// roots is added individually; directories created later are picked up from
// their own create events. Event bursts collapse into one pending trigger,
// as the consumer resynchronizes the whole tree anyway.
type TreeWatcher struct {
	watcher  *fsnotify.Watcher
	triggers chan struct{}
}

// NewTreeWatcher returns a running [TreeWatcher] over the given roots.
// Watching operates on the host filesystem only.
func NewTreeWatcher(ctx context.Context, prog *Program, roots []string) (*TreeWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, root := range roots {
		if err := addDirsRecursive(prog, watcher, root); err != nil {
			_ = watcher.Close()

			return nil, err
		}
	}

	tw := &TreeWatcher{
		watcher:  watcher,
		triggers: make(chan struct{}, 1),
	}

	go tw.forward(ctx, prog)

	return tw, nil
}

// Triggers returns the coalesced notification channel.
func (tw *TreeWatcher) Triggers() <-chan struct{} {
	return tw.triggers
}

// Close releases the underlying watches.
func (tw *TreeWatcher) Close() error {
	return tw.watcher.Close()
}

func (tw *TreeWatcher) forward(ctx context.Context, prog *Program) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}

			if strings.HasSuffix(event.Name, tmpSuffix) {
				continue // our own in-flight copies
			}

			if event.Op.Has(fsnotify.Create) {
				if info, err := prog.fs.Stat(event.Name); err == nil && info.IsDir() {
					if err := tw.watcher.Add(event.Name); err != nil {
						prog.log.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}

			select {
			case tw.triggers <- struct{}{}:
			default: // a trigger is already pending
			}

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			prog.log.Warn("watcher error", "error", err)
		}
	}
}

func addDirsRecursive(prog *Program, watcher *fsnotify.Watcher, root string) error {
	return prog.fsWalker.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return watcher.Add(path)
		}

		return nil
	})
}
