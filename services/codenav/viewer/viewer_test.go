// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package viewer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codenav/services/codenav/backend"
	"github.com/AleutianAI/codenav/services/codenav/identity"
	"github.com/AleutianAI/codenav/services/codenav/selection"
)

type fakeContent struct {
	mu      sync.Mutex
	files   map[string]string
	gates   map[string]chan struct{}
	started chan string
	calls   int
}

func (f *fakeContent) GetFileContent(ctx context.Context, projectID, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.calls++
	gate := f.gates[path]
	content, ok := f.files[path]
	f.mu.Unlock()
	if f.started != nil {
		f.started <- path
	}
	if gate != nil {
		<-gate
	}
	if !ok {
		return "", &backend.Error{Op: "file", Status: 404, Kind: backend.KindNotFound}
	}
	return content, nil
}

func (f *fakeContent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	fileX = identity.FileRef{Name: "x.py", Path: "pkg/x.py", Language: "python"}
	fileY = identity.FileRef{Name: "y.js", Path: "web/y.js"}
)

func TestApply_LoadsContent(t *testing.T) {
	fetcher := &fakeContent{files: map[string]string{"pkg/x.py": "print('x')"}}
	v := New("p-1", fetcher, quietLogger())
	sel := selection.NewController(quietLogger())

	view, err := v.Apply(context.Background(), sel.NavigateTo(fileX, 4))
	require.NoError(t, err)
	assert.Equal(t, "print('x')", view.Content)
	assert.Equal(t, "python", view.Language)
	assert.False(t, view.Loading)
	require.NotNil(t, view.ScrollLine)
	assert.Equal(t, 4, *view.ScrollLine)
}

func TestApply_DefaultLanguage(t *testing.T) {
	fetcher := &fakeContent{files: map[string]string{"web/y.js": "let y"}}
	v := New("p-1", fetcher, quietLogger())
	sel := selection.NewController(quietLogger())

	view, err := v.Apply(context.Background(), sel.SelectFile(fileY))
	require.NoError(t, err)
	assert.Equal(t, DefaultLanguage, view.Language)
	assert.Nil(t, view.ScrollLine)
}

func TestApply_SameFileOnlyMovesScroll(t *testing.T) {
	fetcher := &fakeContent{files: map[string]string{"pkg/x.py": "x"}}
	v := New("p-1", fetcher, quietLogger())
	sel := selection.NewController(quietLogger())

	_, err := v.Apply(context.Background(), sel.NavigateTo(fileX, 4))
	require.NoError(t, err)
	view, err := v.Apply(context.Background(), sel.NavigateTo(fileX, 4))
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.callCount(), "content not refetched")
	assert.Equal(t, sel.Snapshot().Seq, view.Seq, "repeated target re-signals through seq")
}

func TestApply_FetchErrorShowsPlaceholder(t *testing.T) {
	fetcher := &fakeContent{files: map[string]string{}}
	v := New("p-1", fetcher, quietLogger())
	sel := selection.NewController(quietLogger())

	view, err := v.Apply(context.Background(), sel.SelectFile(fileX))
	require.NoError(t, err, "fetch failures are shown inline, not returned")
	assert.Equal(t, ErrorText, view.Error)
	assert.Equal(t, ErrorPlaceholder, view.Content)

	// Re-selecting a failed file retries.
	fetcher.mu.Lock()
	fetcher.files["pkg/x.py"] = "ok"
	fetcher.mu.Unlock()
	view, err = v.Apply(context.Background(), sel.SelectFile(fileX))
	require.NoError(t, err)
	assert.Equal(t, "ok", view.Content)
	assert.Empty(t, view.Error)
}

func TestApply_LateContentForSupersededFileDropped(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeContent{
		files:   map[string]string{"pkg/x.py": "content of x", "web/y.js": "content of y"},
		gates:   map[string]chan struct{}{"pkg/x.py": gate},
		started: make(chan string, 2),
	}
	v := New("p-1", fetcher, quietLogger())
	sel := selection.NewController(quietLogger())

	stX := sel.SelectFile(fileX)
	errc := make(chan error, 1)
	go func() {
		_, err := v.Apply(context.Background(), stX)
		errc <- err
	}()
	require.Equal(t, "pkg/x.py", <-fetcher.started)

	view, err := v.Apply(context.Background(), sel.SelectFile(fileY))
	require.NoError(t, err)
	assert.Equal(t, "content of y", view.Content)

	close(gate)
	assert.True(t, errors.Is(<-errc, ErrStaleResponse))

	final := v.View()
	assert.Equal(t, "web/y.js", final.File.Path)
	assert.Equal(t, "content of y", final.Content, "x's late response never overwrites y")
}

func TestApply_OlderSelectionStateIgnored(t *testing.T) {
	fetcher := &fakeContent{files: map[string]string{"pkg/x.py": "x", "web/y.js": "y"}}
	v := New("p-1", fetcher, quietLogger())
	sel := selection.NewController(quietLogger())

	older := sel.NavigateTo(fileX, 10)
	newer := sel.NavigateTo(fileY, 3)

	_, err := v.Apply(context.Background(), newer)
	require.NoError(t, err)
	_, err = v.Apply(context.Background(), older)
	assert.ErrorIs(t, err, ErrStaleResponse)

	view := v.View()
	assert.Equal(t, "web/y.js", view.File.Path)
	require.NotNil(t, view.ScrollLine)
	assert.Equal(t, 3, *view.ScrollLine)
}

func TestApply_NoFileClearsView(t *testing.T) {
	fetcher := &fakeContent{files: map[string]string{"pkg/x.py": "x"}}
	v := New("p-1", fetcher, quietLogger())
	sel := selection.NewController(quietLogger())
	_, err := v.Apply(context.Background(), sel.SelectFile(fileX))
	require.NoError(t, err)

	view, err := v.Apply(context.Background(), selection.State{Seq: sel.Snapshot().Seq + 1})
	require.NoError(t, err)
	assert.True(t, view.Empty())
}

func TestApply_CancelledFetchStaysLoading(t *testing.T) {
	fetcher := &fakeContent{files: map[string]string{"pkg/x.py": "print(1)\n"}}
	v := New("p-1", fetcher, quietLogger())
	sel := selection.NewController(quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := sel.SelectFile(fileX)
	view, err := v.Apply(ctx, st)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, view.Loading)
	assert.Empty(t, view.Error, "a disconnected caller is not a backend failure")
	assert.Empty(t, view.Content)
	assert.Empty(t, v.View().Error)

	view, err = v.Apply(context.Background(), st)
	require.NoError(t, err)
	assert.False(t, view.Loading)
	assert.Equal(t, "print(1)\n", view.Content)
	assert.Equal(t, 1, fetcher.callCount())
}
