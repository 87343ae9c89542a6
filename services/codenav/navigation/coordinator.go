// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package navigation turns panel intents into selection transitions.
//
// The file tree and the structure panel never touch the selection directly:
// they report what the user activated (a file, a symbol, a caller/callee
// row, an expand toggle) and the Coordinator resolves it into a concrete
// (file, line) target.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/codenav/services/codenav/backend"
	"github.com/AleutianAI/codenav/services/codenav/depcache"
	"github.com/AleutianAI/codenav/services/codenav/identity"
	"github.com/AleutianAI/codenav/services/codenav/selection"
	"github.com/AleutianAI/codenav/services/codenav/structure"
)

// ErrMissingTarget is returned when an intent has no resolvable file or
// line. No navigation happened; callers absorb it silently.
var ErrMissingTarget = errors.New("navigation target missing")

// Coordinator routes intents of one session.
//
// Thread Safety: Safe for concurrent use; all state lives in the selection
// controller and the dependency cache.
type Coordinator struct {
	selection *selection.Controller
	cache     *depcache.Cache
	logger    *slog.Logger
}

// NewCoordinator wires a coordinator to a session's selection and cache.
func NewCoordinator(sel *selection.Controller, cache *depcache.Cache, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{selection: sel, cache: cache, logger: logger}
}

// OnFileActivated shows a file picked in the tree, without a scroll target.
func (c *Coordinator) OnFileActivated(ref identity.FileRef) (selection.State, error) {
	if ref.IsZero() {
		return c.selection.Snapshot(), fmt.Errorf("%w: empty file path", ErrMissingTarget)
	}
	return c.selection.SelectFile(ref), nil
}

// OnSymbolActivated jumps to a symbol of the file currently open.
//
// Inputs:
//
//	sym - Symbol row that was activated.
//	current - The file the symbol belongs to.
//
// Outputs:
//
//	selection.State - State after navigating.
//	error - ErrMissingTarget when current is empty or sym has no line.
func (c *Coordinator) OnSymbolActivated(sym structure.Symbol, current identity.FileRef) (selection.State, error) {
	if current.IsZero() || sym.Line < 1 {
		c.logger.Debug("symbol navigation ignored",
			slog.String("symbol", sym.Name),
			slog.Int("line", sym.Line),
		)
		return c.selection.Snapshot(), fmt.Errorf("%w: symbol %q line %d", ErrMissingTarget, sym.Name, sym.Line)
	}
	return c.selection.NavigateTo(current, sym.Line), nil
}

// OnDependencyRefActivated jumps to a caller or callee, possibly in another file.
//
// Description:
//
//	The target file is derived from ref.FilePath. Its language is the
//	fixed default of identity.FileRefFromDependency because a reference
//	carries no language of its own. A reference without a path or with a
//	non-positive line is ignored and reported as ErrMissingTarget.
//
// Inputs:
//
//	ref - The activated dependency row.
//
// Outputs:
//
//	selection.State - State after navigating, or the unchanged state.
//	error - ErrMissingTarget when ref cannot be resolved.
func (c *Coordinator) OnDependencyRefActivated(ref backend.DependencyRef) (selection.State, error) {
	file := identity.FileRefFromDependency(ref.FilePath)
	if file.IsZero() || ref.LineNumber < 1 {
		c.logger.Debug("dependency navigation ignored",
			slog.String("identity", ref.Identity.String()),
			slog.String("file_path", ref.FilePath),
			slog.Int("line", ref.LineNumber),
		)
		return c.selection.Snapshot(), fmt.Errorf("%w: %s", ErrMissingTarget, ref.Identity)
	}
	return c.selection.NavigateTo(file, ref.LineNumber), nil
}

// OnExpandRequested returns the caller/callee future of a symbol. The
// first request for an identity starts the fetch; later ones share it.
func (c *Coordinator) OnExpandRequested(ctx context.Context, id identity.ID) *depcache.Future {
	return c.cache.Request(ctx, id)
}

// OnRetryRequested re-attempts a symbol whose expansion failed.
func (c *Coordinator) OnRetryRequested(ctx context.Context, id identity.ID) *depcache.Future {
	return c.cache.Retry(ctx, id)
}
