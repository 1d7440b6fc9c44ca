// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianQMB/pkg/logging"
	"github.com/AleutianAI/AleutianQMB/services/builder/guard"
)

// Watcher hot-reloads guard policy when the config file changes on
// disk. Only guard settings (rate limits and blocked patterns) apply
// at runtime; directory and logging changes need a restart.
//
// A reload that fails to parse or validate leaves the running policy
// untouched.
type Watcher struct {
	path    string
	guard   *guard.Guard
	logger  *logging.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher watches the config file at path and applies guard policy
// changes to g. Watching starts immediately; call Close to stop.
func NewWatcher(path string, g *guard.Guard, logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	// Watch the directory, not the file: editors and config writers
	// typically replace the file, which drops a file-level watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{
		path:    path,
		guard:   g,
		logger:  logger,
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops watching. Safe to call once.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err.Error())
		}
	}
}

// reload re-reads the file and pushes guard policy into the running
// guard. Errors are logged and the previous policy stays active.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "path", w.path, "error", err.Error())
		return
	}

	w.guard.UpdateLimits(cfg.Guard.Limits())

	patterns := append(guard.DefaultBlockedPatterns(), cfg.Guard.ExtraBlockedPatterns...)
	if err := w.guard.UpdateBlockedPatterns(patterns); err != nil {
		w.logger.Warn("config reload rejected blocked patterns", "error", err.Error())
		return
	}

	w.logger.Info("config reloaded",
		"path", w.path,
		"max_requests", cfg.Guard.MaxRequests,
		"extra_blocked_patterns", len(cfg.Guard.ExtraBlockedPatterns),
	)
}
