// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session wires the per-project browsing state together.
//
// # Ownership Model
//
// A Session is created when a project is opened and owns everything scoped
// to that browsing session: the file tree and its expansion state, the
// selection controller, the dependency cache, the viewer and the structure
// panel. Nothing in a Session is shared with another Session except the
// indexing lifecycle, which is keyed by project id and owned by the Registry.
//
// # Thread Safety
//
// Session and Registry methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/codenav/services/codenav/backend"
	"github.com/AleutianAI/codenav/services/codenav/depcache"
	"github.com/AleutianAI/codenav/services/codenav/identity"
	"github.com/AleutianAI/codenav/services/codenav/indexing"
	"github.com/AleutianAI/codenav/services/codenav/navigation"
	"github.com/AleutianAI/codenav/services/codenav/selection"
	"github.com/AleutianAI/codenav/services/codenav/structure"
	"github.com/AleutianAI/codenav/services/codenav/tree"
	"github.com/AleutianAI/codenav/services/codenav/viewer"
)

var (
	// ErrFileNotFound is returned when a path is not a file of the session's tree.
	ErrFileNotFound = errors.New("file not in project tree")

	// ErrNotAFolder is returned when toggling a path that is not a folder.
	ErrNotAFolder = errors.New("path is not a folder")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// Backend is everything a session needs from the analysis backend.
//
// *backend.Client satisfies this interface.
type Backend interface {
	Ingest(ctx context.Context, repoURL string) (*backend.IngestResult, error)
	depcache.Fetcher
	viewer.ContentFetcher
	structure.MetadataFetcher
	indexing.Trigger
}

// Update is the combined panel state after an intent.
type Update struct {
	Navigated bool            `json:"navigated"`
	Selection selection.State `json:"selection"`
	View      viewer.View     `json:"viewer"`
	Structure structure.Model `json:"structure"`
}

// Summary describes a session.
type Summary struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	RepoURL   string          `json:"repo_url"`
	CreatedAt time.Time       `json:"created_at"`
	LastUsed  time.Time       `json:"last_used"`
	Files     int             `json:"files"`
	Folders   int             `json:"folders"`
	Selection selection.State `json:"selection"`
	Indexing  indexing.Job    `json:"indexing"`
	Cache     depcache.Stats  `json:"cache"`
}

// Session is one user's browsing state for one project.
type Session struct {
	id        string
	projectID string
	repoURL   string
	createdAt time.Time
	lastUsed  atomic.Int64

	nodes     []tree.Node
	expansion *tree.ExpansionState
	selection *selection.Controller
	cache     *depcache.Cache
	coord     *navigation.Coordinator
	viewer    *viewer.Viewer
	structure *structure.Panel
	lifecycle *indexing.Lifecycle
	logger    *slog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

type sessionConfig struct {
	id        string
	repoURL   string
	result    *backend.IngestResult
	backend   Backend
	lifecycle *indexing.Lifecycle
	filter    *tree.Filter
	cacheOpts depcache.Options
	now       time.Time
	logger    *slog.Logger
}

func newSession(cfg sessionConfig) *Session {
	logger := cfg.logger.With(
		slog.String("session_id", cfg.id),
		slog.String("project_id", cfg.result.ProjectID),
	)
	cacheOpts := cfg.cacheOpts
	cacheOpts.Logger = logger

	sel := selection.NewController(logger)
	cache := depcache.New(cfg.result.ProjectID, cfg.backend, cacheOpts)
	nodes := tree.FromEntries(cfg.result.FileTree, cfg.filter)
	content := contentSource{backend: cfg.backend, sources: tree.Sources(nodes)}
	s := &Session{
		id:        cfg.id,
		projectID: cfg.result.ProjectID,
		repoURL:   cfg.repoURL,
		createdAt: cfg.now,
		nodes:     nodes,
		expansion: tree.NewExpansionState(),
		selection: sel,
		cache:     cache,
		coord:     navigation.NewCoordinator(sel, cache, logger),
		viewer:    viewer.New(cfg.result.ProjectID, content, logger),
		structure: structure.NewPanel(cfg.result.ProjectID, cfg.backend, logger),
		lifecycle: cfg.lifecycle,
		logger:    logger,
	}
	s.lastUsed.Store(cfg.now.UnixNano())
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// ProjectID returns the backend project id.
func (s *Session) ProjectID() string { return s.projectID }

// LastUsed returns the time of the last access.
func (s *Session) LastUsed() time.Time { return time.Unix(0, s.lastUsed.Load()) }

func (s *Session) touch(now time.Time) { s.lastUsed.Store(now.UnixNano()) }

// Tree returns the normalized file tree.
func (s *Session) Tree() []tree.Node { return s.nodes }

// Rows returns the currently visible tree rows.
func (s *Session) Rows() []tree.Row { return tree.Visible(s.nodes, s.expansion) }

// IsOpen reports whether a folder is expanded.
func (s *Session) IsOpen(folderPath string) bool { return s.expansion.IsOpen(folderPath) }

// ToggleFolder flips a folder of the tree and returns its new state.
func (s *Session) ToggleFolder(folderPath string) (bool, error) {
	n, ok := tree.Find(s.nodes, folderPath)
	if !ok || !n.IsFolder() {
		return false, fmt.Errorf("%w: %q", ErrNotAFolder, folderPath)
	}
	return s.expansion.Toggle(n.Path), nil
}

// CollapseAll closes every folder.
func (s *Session) CollapseAll() { s.expansion.CollapseAll(s.nodes) }

// ExpandAll opens every folder.
func (s *Session) ExpandAll() { s.expansion.ExpandAll() }

// SelectFile opens a file picked in the tree.
//
// Description:
//
//	The path must name a file of the session's tree. The selection moves
//	without a scroll target, then the viewer and the structure panel load
//	the file concurrently.
//
// Inputs:
//
//	ctx - Bounds content and metadata fetches.
//	path - Project-relative path in any separator style.
//
// Outputs:
//
//	Update - Panel state after the selection.
//	error - ErrFileNotFound or ErrSessionClosed.
func (s *Session) SelectFile(ctx context.Context, path string) (Update, error) {
	if s.closed.Load() {
		return Update{}, ErrSessionClosed
	}
	n, ok := tree.Find(s.nodes, path)
	if !ok || n.IsFolder() {
		return Update{}, fmt.Errorf("%w: %q", ErrFileNotFound, path)
	}
	s.expansion.RevealPath(n.Path)
	st, err := s.coord.OnFileActivated(n.FileRef())
	if err != nil {
		return s.current(false), err
	}
	return s.sync(ctx, st), nil
}

// NavigateSymbol jumps to a symbol of the open file.
//
// A symbol without a line, or no open file, is absorbed: the returned
// Update has Navigated false and the error is nil.
func (s *Session) NavigateSymbol(ctx context.Context, sym structure.Symbol) (Update, error) {
	if s.closed.Load() {
		return Update{}, ErrSessionClosed
	}
	st, err := s.coord.OnSymbolActivated(sym, s.selection.Snapshot().File())
	if errors.Is(err, navigation.ErrMissingTarget) {
		return s.current(false), nil
	}
	return s.sync(ctx, st), nil
}

// NavigateRef jumps to a caller or callee, possibly in another file.
//
// Unresolvable references are absorbed like in NavigateSymbol.
func (s *Session) NavigateRef(ctx context.Context, ref backend.DependencyRef) (Update, error) {
	if s.closed.Load() {
		return Update{}, ErrSessionClosed
	}
	st, err := s.coord.OnDependencyRefActivated(ref)
	if errors.Is(err, navigation.ErrMissingTarget) {
		return s.current(false), nil
	}
	s.expansion.RevealPath(st.File().Path)
	return s.sync(ctx, st), nil
}

// Expand requests the callers and callees of a symbol.
//
// Description:
//
//	With wait false the current state is returned immediately (typically
//	loading on the first call). With wait true the call blocks until the
//	entry settles or ctx is done; a cancelled wait returns the loading view
//	and leaves the fetch running.
func (s *Session) Expand(ctx context.Context, id identity.ID, wait bool) structure.Expansion {
	return s.expansionOf(ctx, s.coord.OnExpandRequested(ctx, id), wait)
}

// RetryExpand re-attempts a symbol whose expansion failed.
func (s *Session) RetryExpand(ctx context.Context, id identity.ID, wait bool) structure.Expansion {
	return s.expansionOf(ctx, s.coord.OnRetryRequested(ctx, id), wait)
}

func (s *Session) expansionOf(ctx context.Context, f *depcache.Future, wait bool) structure.Expansion {
	if !wait {
		return structure.ExpansionFromResult(f.Result())
	}
	res, err := f.Wait(ctx)
	if err != nil {
		return structure.ExpansionFromResult(f.Result())
	}
	return structure.ExpansionFromResult(res)
}

// Prefetch warms the expansions of every symbol of the open file.
func (s *Session) Prefetch(ctx context.Context) (int, error) {
	syms := s.structure.Model().Symbols()
	ids := make([]identity.ID, 0, len(syms))
	for _, sym := range syms {
		ids = append(ids, sym.Identity)
	}
	results, err := s.cache.Prefetch(ctx, ids)
	return len(results), err
}

// AckScroll records that the viewer revealed the scroll line of seq and
// drops the line from the viewer model. Stale acks return false.
func (s *Session) AckScroll(ctx context.Context, seq uint64) bool {
	if !s.selection.ClearScrollTarget(seq) {
		return false
	}
	if _, err := s.viewer.Apply(ctx, s.selection.Snapshot()); err != nil && !errors.Is(err, viewer.ErrStaleResponse) {
		s.logger.Warn("viewer sync after ack failed", slog.String("error", err.Error()))
	}
	return true
}

// Selection returns the current selection.
func (s *Session) Selection() selection.State { return s.selection.Snapshot() }

// Watch subscribes to selection changes until ctx is done.
func (s *Session) Watch(ctx context.Context) <-chan selection.State { return s.selection.Watch(ctx) }

// View returns the viewer model.
func (s *Session) View() viewer.View { return s.viewer.View() }

// Structure returns the structure panel model with the indexing state.
func (s *Session) Structure() structure.Model {
	m := s.structure.Model()
	m.Indexing = string(s.Indexing().State)
	return m
}

// Indexing returns the project's parse job.
func (s *Session) Indexing() indexing.Job { return s.lifecycle.Status(s.projectID) }

// Watchers returns the number of live selection subscriptions.
func (s *Session) Watchers() int { return s.selection.Watchers() }

// CacheStats summarizes the dependency cache.
func (s *Session) CacheStats() depcache.Stats { return s.cache.Stats() }

// Summary describes the session.
func (s *Session) Summary() Summary {
	files, folders := tree.Count(s.nodes)
	return Summary{
		ID:        s.id,
		ProjectID: s.projectID,
		RepoURL:   s.repoURL,
		CreatedAt: s.createdAt,
		LastUsed:  s.LastUsed(),
		Files:     files,
		Folders:   folders,
		Selection: s.Selection(),
		Indexing:  s.Indexing(),
		Cache:     s.CacheStats(),
	}
}

// Close releases the session's resources. In-flight dependency fetches
// settle as failed. Close is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cache.Close()
		s.structure.Reset()
		s.logger.Info("session closed")
	})
}

// sync brings the viewer and structure panel in line with st. Both panels
// drop st when a newer selection was already applied.
func (s *Session) sync(ctx context.Context, st selection.State) Update {
	var g errgroup.Group
	g.Go(func() error {
		if _, err := s.viewer.Apply(ctx, st); err != nil && !errors.Is(err, viewer.ErrStaleResponse) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if _, err := s.structure.Load(ctx, st.File(), st.Seq); err != nil && !errors.Is(err, structure.ErrStaleResponse) {
			return err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("panel sync failed", slog.String("error", err.Error()))
	}
	return s.current(true)
}

func (s *Session) current(navigated bool) Update {
	return Update{
		Navigated: navigated,
		Selection: s.selection.Snapshot(),
		View:      s.viewer.View(),
		Structure: s.Structure(),
	}
}
