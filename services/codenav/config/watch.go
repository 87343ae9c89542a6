// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 200 * time.Millisecond

// Watch re-loads the configuration file whenever it changes.
//
// Description:
//
//	The parent directory is watched rather than the file, so atomic
//	rename-over saves are seen. Every successful reload is passed to
//	onChange; invalid files are logged and ignored, keeping the previous
//	configuration in effect. Watch blocks until ctx is done.
//
// Inputs:
//
//	ctx - Watch lifetime.
//	path - Configuration file path.
//	onChange - Called with each valid reloaded configuration.
//	logger - Diagnostics. Nil uses slog.Default().
//
// Outputs:
//
//	error - Non-nil when the watcher could not be started.
func Watch(ctx context.Context, path string, onChange func(*Config), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload rejected",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				continue
			}
			logger.Info("config reloaded",
				slog.String("path", path),
				slog.String("log_level", cfg.Log.Level),
			)
			onChange(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

// LevelUpdater returns an onChange callback for Watch that applies the
// reloaded log level to level.
func LevelUpdater(level *slog.LevelVar) func(*Config) {
	return func(cfg *Config) {
		if lvl, err := ParseLevel(cfg.Log.Level); err == nil {
			level.Set(lvl)
		}
	}
}
