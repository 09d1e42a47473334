// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher marks index files dirty as they change on disk.
//
// Description:
//
//	Used by long-lived processes (the debug HTTP surface, repeated repair
//	sessions in one invocation) so that a later Refresh knows which files
//	to recheck without a full hash walk. The watcher never mutates index
//	entries itself; it only feeds MarkDirty.
//
// Thread Safety:
//
//	Run is meant to be called once from its own goroutine. Close is safe
//	from any goroutine.
type Watcher struct {
	index   *CodeIndex
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewWatcher creates a watcher over every directory under the index root.
func NewWatcher(ci *CodeIndex, logger *slog.Logger) (*Watcher, error) {
	if ci == nil {
		return nil, fmt.Errorf("index must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	err = filepath.WalkDir(ci.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("registering watch directories: %w", err)
	}

	return &Watcher{index: ci, watcher: fsw, logger: logger}, nil
}

// Run consumes filesystem events until ctx is canceled or the watcher is
// closed. Only *.py writes, creates, renames, and removals are relevant.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".py") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			rel, err := filepath.Rel(w.index.Root(), event.Name)
			if err != nil {
				continue
			}
			relPath := filepath.ToSlash(rel)
			w.index.MarkDirty(relPath)
			w.logger.Debug("file marked dirty",
				slog.String("file", relPath),
				slog.String("op", event.Op.String()))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.Any("error", err))
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
