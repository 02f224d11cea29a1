// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher live-reloads the router configuration from a YAML
// file.
//
// # Description
//
// Watches the config file's directory (so editor atomic-rename saves
// are seen) and applies the file through Router.ApplyConfig on every
// write or create of that path. A file that fails to parse or
// validate leaves the previous configuration in force.
//
// # Thread Safety
//
// Safe for concurrent use. Start should only be called once.
type ConfigWatcher struct {
	path    string
	router  *Router
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewConfigWatcher creates a watcher for the given config file.
//
// # Inputs
//
//   - path: Config file to watch; need not exist yet.
//   - r: Router receiving reloaded configurations.
//   - logger: May be nil; defaults to slog.Default().
//
// # Outputs
//
//   - *ConfigWatcher: Ready-to-start watcher.
//   - error: Non-nil if watcher creation fails.
func NewConfigWatcher(path string, r *Router, logger *slog.Logger) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigWatcher{
		path:    path,
		router:  r,
		watcher: watcher,
		logger:  logger,
	}, nil
}

// Start begins watching for config changes.
//
// # Description
//
// Blocks until the context is cancelled. Should be run in a goroutine:
//
//	watcher, _ := router.NewConfigWatcher(path, rt, logger)
//	go watcher.Start(ctx)
func (w *ConfigWatcher) Start(ctx context.Context) {
	// Watch the directory: editors replace files via rename, which
	// drops a watch on the file itself.
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("failed to watch config directory",
			"dir", dir,
			"error", err)
		return
	}

	w.logger.Debug("started watching config file",
		"path", w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error",
				"error", err)

		case <-ctx.Done():
			w.logger.Debug("config watcher stopping")
			return
		}
	}
}

// handleEvent processes a single fsnotify event.
func (w *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}

	cfg, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected, keeping previous configuration",
			"path", w.path,
			"error", err)
		return
	}

	w.logger.Info("config file changed, applying",
		"path", w.path)
	w.router.ApplyConfig(cfg)
}

// Stop stops the watcher.
//
// # Description
//
// Stops watching and releases resources. Safe to call multiple times.
func (w *ConfigWatcher) Stop() error {
	return w.watcher.Close()
}
