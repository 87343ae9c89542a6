// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codenav/services/codenav/backend"
	"github.com/AleutianAI/codenav/services/codenav/depcache"
	"github.com/AleutianAI/codenav/services/codenav/identity"
	"github.com/AleutianAI/codenav/services/codenav/indexing"
	"github.com/AleutianAI/codenav/services/codenav/structure"
	"github.com/AleutianAI/codenav/services/codenav/tree"
)

// memBackend is an in-memory analysis backend.
type memBackend struct {
	mu           sync.Mutex
	files        map[string]string
	contentPaths []string
	metadata     map[string]*backend.FileMetadata
	deps         map[identity.ID]*backend.EdgeSet
	ingestErr    error
	parseCalls   atomic.Int32
	depCalls     atomic.Int32
}

func newMemBackend() *memBackend {
	return &memBackend{
		files: map[string]string{
			"/store/p-1/pkg/mod.py": "class Foo:\n    def bar(self):\n        baz()\n",
			"/store/p-1/README.md":  "# demo",
		},
		metadata: map[string]*backend.FileMetadata{
			"pkg/mod.py": {
				RelativePath: "pkg/mod.py",
				Classes:      []backend.Class{{Name: "Foo", Lineno: 1, Methods: []backend.Method{{Name: "bar", Lineno: 2}}}},
				Functions:    []backend.Function{{Name: "baz", Lineno: 42}},
			},
		},
		deps: map[identity.ID]*backend.EdgeSet{
			"pkg/mod.py::Foo.bar": {
				Callers: []backend.DependencyRef{{Identity: "pkg/mod.py::baz", DisplayLabel: "baz", FilePath: "pkg/mod.py", LineNumber: 42}},
				Callees: []backend.DependencyRef{},
			},
		},
	}
}

func (m *memBackend) Ingest(ctx context.Context, repoURL string) (*backend.IngestResult, error) {
	if m.ingestErr != nil {
		return nil, m.ingestErr
	}
	return &backend.IngestResult{
		ProjectID: "p-1",
		FileTree: []backend.TreeEntry{
			{Name: "README.md", Path: "/store/p-1/README.md", Type: "file"},
			{Name: ".git", Path: "/store/p-1/.git", Type: "folder"},
			{Name: "pkg", Path: "/store/p-1/pkg", Type: "folder", Children: []backend.TreeEntry{
				{Name: "mod.py", Path: "/store/p-1/pkg/mod.py", Type: "file"},
			}},
		},
	}, nil
}

func (m *memBackend) GetFileContent(ctx context.Context, projectID, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contentPaths = append(m.contentPaths, path)
	c, ok := m.files[path]
	if !ok {
		return "", &backend.Error{Op: "file", Status: 404, Kind: backend.KindNotFound}
	}
	return c, nil
}

func (m *memBackend) GetMetadata(ctx context.Context, projectID, path string) (*backend.FileMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metadata[path], nil
}

func (m *memBackend) GetDependencies(ctx context.Context, projectID string, id identity.ID) (*backend.EdgeSet, error) {
	m.depCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	edges, ok := m.deps[id]
	if !ok {
		return nil, &backend.Error{Op: "dependencies", Status: 404, Kind: backend.KindNotFound}
	}
	return edges, nil
}

func (m *memBackend) ParseProject(ctx context.Context, projectID string) (*backend.ParseAck, error) {
	m.parseCalls.Add(1)
	return &backend.ParseAck{Status: "success", ParsedFiles: 1}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, mb *memBackend, mutate func(*Options)) *Registry {
	t.Helper()
	opts := Options{
		Backend: mb,
		Filter:  tree.NewFilter(tree.DefaultHidden),
		Logger:  quietLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	r := NewRegistry(opts)
	t.Cleanup(r.Shutdown)
	return r
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestOpen_BuildsTreeAndTriggersIndexing(t *testing.T) {
	mb := newMemBackend()
	r := newTestRegistry(t, mb, nil)

	s, err := r.Open(context.Background(), "https://github.com/example/demo")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "p-1", s.ProjectID())

	nodes := s.Tree()
	require.Len(t, nodes, 2, ".git hidden")
	assert.Equal(t, "pkg", nodes[0].Path)
	assert.Equal(t, "pkg/mod.py", nodes[0].Children[0].Path)

	job, err := r.Lifecycle().Wait(waitCtx(t), "p-1")
	require.NoError(t, err)
	assert.Equal(t, indexing.StateSucceeded, job.State)

	// A second session on the same project does not re-trigger parsing.
	_, err = r.Open(context.Background(), "https://github.com/example/demo")
	require.NoError(t, err)
	assert.EqualValues(t, 1, mb.parseCalls.Load())
	assert.Equal(t, 2, r.Len())
}

func TestClose_LastSessionForgetsIndexing(t *testing.T) {
	mb := newMemBackend()
	r := newTestRegistry(t, mb, nil)

	a, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)
	b, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)
	_, err = r.Lifecycle().Wait(waitCtx(t), "p-1")
	require.NoError(t, err)

	require.NoError(t, r.Close(a.ID()))
	assert.Equal(t, indexing.StateSucceeded, r.Lifecycle().Status("p-1").State, "b still uses the project")

	require.NoError(t, r.Close(b.ID()))
	assert.Equal(t, indexing.StateIdle, r.Lifecycle().Status("p-1").State)

	_, err = r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)
	_, err = r.Lifecycle().Wait(waitCtx(t), "p-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, mb.parseCalls.Load(), "reopening indexes again")
}

func TestOpen_Errors(t *testing.T) {
	mb := newMemBackend()
	r := newTestRegistry(t, mb, nil)

	_, err := r.Open(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidURL)

	mb.ingestErr = &backend.Error{Op: "ingest", Status: 400, Kind: backend.KindIngest, Detail: "bad url"}
	_, err = r.Open(context.Background(), "not-a-repo")
	assert.ErrorIs(t, err, backend.ErrIngest)
	assert.Equal(t, 0, r.Len())
}

func TestOpen_MaxSessions(t *testing.T) {
	r := newTestRegistry(t, newMemBackend(), func(o *Options) { o.MaxSessions = 1 })

	_, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)
	_, err = r.Open(context.Background(), "https://example/b")
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestSessionsAreIsolated(t *testing.T) {
	mb := newMemBackend()
	r := newTestRegistry(t, mb, nil)
	a, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)
	b, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)

	a.Expand(waitCtx(t), "pkg/mod.py::Foo.bar", true)
	b.Expand(waitCtx(t), "pkg/mod.py::Foo.bar", true)
	assert.EqualValues(t, 2, mb.depCalls.Load(), "each session has its own cache")

	_, err = a.SelectFile(context.Background(), "README.md")
	require.NoError(t, err)
	assert.False(t, b.Selection().HasFile())
}

func TestSelectFile_LoadsViewerAndStructure(t *testing.T) {
	r := newTestRegistry(t, newMemBackend(), nil)
	s, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)

	up, err := s.SelectFile(context.Background(), `pkg\mod.py`)
	require.NoError(t, err)
	assert.True(t, up.Navigated)
	assert.Equal(t, "pkg/mod.py", up.View.File.Path)
	assert.Contains(t, up.View.Content, "class Foo")
	assert.Equal(t, "python", up.View.Language)
	assert.Equal(t, structure.StatusReady, up.Structure.Status)
	require.Len(t, up.Structure.Classes, 1)

	_, err = s.SelectFile(context.Background(), "pkg")
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = s.SelectFile(context.Background(), "nope.py")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestSelectFile_FetchesContentByBackendPath(t *testing.T) {
	mb := newMemBackend()
	mb.files["lib/ext.py"] = "x = 1\n"
	r := newTestRegistry(t, mb, nil)
	s, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)

	up, err := s.SelectFile(context.Background(), "pkg/mod.py")
	require.NoError(t, err)
	assert.Empty(t, up.View.Error)
	assert.Equal(t, "pkg/mod.py", up.View.File.Path, "the view keeps the relative path")

	up, err = s.NavigateRef(context.Background(), backend.DependencyRef{Identity: "lib/ext.py::x", FilePath: "lib/ext.py", LineNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", up.View.Content)

	mb.mu.Lock()
	defer mb.mu.Unlock()
	assert.Equal(t, []string{"/store/p-1/pkg/mod.py", "lib/ext.py"}, mb.contentPaths, "paths outside the tree pass through")
}

func TestSync_OlderSelectionCannotTakeOverPanels(t *testing.T) {
	mb := newMemBackend()
	mb.files["pkg/other.py"] = "def other():\n    pass\n"
	mb.metadata["pkg/other.py"] = &backend.FileMetadata{
		RelativePath: "pkg/other.py",
		Functions:    []backend.Function{{Name: "other", Lineno: 1}},
	}
	r := newTestRegistry(t, mb, nil)
	s, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)

	// The first navigation transitions but its panel sync is delayed until
	// a second navigation has fully completed.
	older, err := s.coord.OnDependencyRefActivated(backend.DependencyRef{Identity: "pkg/mod.py::baz", FilePath: "pkg/mod.py", LineNumber: 42})
	require.NoError(t, err)
	_, err = s.NavigateRef(context.Background(), backend.DependencyRef{Identity: "pkg/other.py::other", FilePath: "pkg/other.py", LineNumber: 1})
	require.NoError(t, err)

	late := s.sync(context.Background(), older)
	assert.Equal(t, "pkg/other.py", late.Selection.File().Path)
	assert.Equal(t, "pkg/other.py", late.View.File.Path)
	assert.Equal(t, "pkg/other.py", late.Structure.File.Path)
	syms := late.Structure.Symbols()
	require.Len(t, syms, 1)
	assert.Equal(t, identity.ID("pkg/other.py::other"), syms[0].Identity)

	n, err := s.Prefetch(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, depcache.StateNotRequested, s.cache.Peek("pkg/mod.py::baz").State)
}

func TestSelectFile_ReadmeHasNoSymbols(t *testing.T) {
	r := newTestRegistry(t, newMemBackend(), nil)
	s, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)

	up, err := s.SelectFile(context.Background(), "README.md")
	require.NoError(t, err)
	assert.Equal(t, structure.StatusNoMetadata, up.Structure.Status)
	assert.Equal(t, structure.MessageNoFile, up.Structure.Message)
	assert.Equal(t, "# demo", up.View.Content)
	assert.Equal(t, "markdown", up.View.Language)
}

func TestExpandAndNavigateRef(t *testing.T) {
	r := newTestRegistry(t, newMemBackend(), nil)
	s, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)
	_, err = s.SelectFile(context.Background(), "README.md")
	require.NoError(t, err)

	exp := s.Expand(waitCtx(t), "pkg/mod.py::Foo.bar", true)
	require.Equal(t, structure.ExpansionReady, exp.Status)
	require.Len(t, exp.Callers, 1)

	s.CollapseAll()
	up, err := s.NavigateRef(context.Background(), exp.Callers[0])
	require.NoError(t, err)
	assert.True(t, up.Navigated)
	assert.Equal(t, identity.FileRef{Name: "mod.py", Path: "pkg/mod.py", Language: "python"}, up.Selection.File())
	line, ok := up.Selection.Line()
	require.True(t, ok)
	assert.Equal(t, 42, line)
	require.NotNil(t, up.View.ScrollLine)
	assert.Equal(t, 42, *up.View.ScrollLine)
	assert.True(t, s.IsOpen("pkg"), "target folder revealed")

	assert.True(t, s.AckScroll(context.Background(), up.Selection.Seq))
	_, ok = s.Selection().Line()
	assert.False(t, ok)
	assert.Nil(t, s.View().ScrollLine)
	assert.False(t, s.AckScroll(context.Background(), up.Selection.Seq), "stale ack")
}

func TestNavigate_MissingTargetAbsorbed(t *testing.T) {
	r := newTestRegistry(t, newMemBackend(), nil)
	s, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)

	up, err := s.NavigateRef(context.Background(), backend.DependencyRef{Identity: "x::y", LineNumber: 3})
	require.NoError(t, err)
	assert.False(t, up.Navigated)

	up, err = s.NavigateSymbol(context.Background(), structure.Symbol{Name: "baz", Line: 42})
	require.NoError(t, err)
	assert.False(t, up.Navigated, "no file open")
}

func TestNavigateSymbol_InOpenFile(t *testing.T) {
	r := newTestRegistry(t, newMemBackend(), nil)
	s, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)
	_, err = s.SelectFile(context.Background(), "pkg/mod.py")
	require.NoError(t, err)

	up, err := s.NavigateSymbol(context.Background(), structure.Symbol{Kind: structure.KindFunction, Name: "baz", Line: 42})
	require.NoError(t, err)
	assert.True(t, up.Navigated)
	require.NotNil(t, up.View.ScrollLine)
	assert.Equal(t, 42, *up.View.ScrollLine)
	assert.Equal(t, "pkg/mod.py", up.View.File.Path)
}

func TestToggleFolder(t *testing.T) {
	r := newTestRegistry(t, newMemBackend(), nil)
	s, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)

	assert.Len(t, s.Rows(), 3)
	open, err := s.ToggleFolder("pkg")
	require.NoError(t, err)
	assert.False(t, open)
	assert.Len(t, s.Rows(), 2)

	_, err = s.ToggleFolder("README.md")
	assert.ErrorIs(t, err, ErrNotAFolder)
}

func TestPrefetch_WarmsOpenFileSymbols(t *testing.T) {
	mb := newMemBackend()
	r := newTestRegistry(t, mb, nil)
	s, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)
	_, err = s.SelectFile(context.Background(), "pkg/mod.py")
	require.NoError(t, err)

	n, err := s.Prefetch(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 3, n, "Foo, Foo.bar, baz")
	stats := s.CacheStats()
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 1, stats.Ready)
	assert.Equal(t, 2, stats.Failed)
}

func TestRegistry_GetCloseReap(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := newTestRegistry(t, newMemBackend(), func(o *Options) {
		o.IdleTTL = 10 * time.Minute
		o.Now = clock.Now
	})

	a, err := r.Open(context.Background(), "https://example/a")
	require.NoError(t, err)
	b, err := r.Open(context.Background(), "https://example/b")
	require.NoError(t, err)

	clock.Advance(8 * time.Minute)
	_, err = r.Get(b.ID())
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)

	assert.Equal(t, 1, r.Reap(), "only a is idle past the ttl")
	_, err = r.Get(a.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = a.SelectFile(context.Background(), "README.md")
	assert.ErrorIs(t, err, ErrSessionClosed)

	require.NoError(t, r.Close(b.ID()))
	assert.ErrorIs(t, r.Close(b.ID()), ErrNotFound)
	assert.Empty(t, r.List())
}
