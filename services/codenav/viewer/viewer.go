// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package viewer is the read-only code viewer model. It follows the
// selection state, loads file content, and guards against late responses
// for files that are no longer selected.
package viewer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/codenav/services/codenav/identity"
	"github.com/AleutianAI/codenav/services/codenav/selection"
)

const (
	// DefaultLanguage is used when the file carries no language tag.
	DefaultLanguage = "javascript"

	// ErrorText is shown when file content could not be loaded.
	ErrorText = "Failed to load file content"

	// ErrorPlaceholder replaces the content of a file that failed to load.
	ErrorPlaceholder = "// Error loading content"
)

// ErrStaleResponse reports that a load or selection state was superseded
// before it could be applied. The result was discarded.
var ErrStaleResponse = errors.New("stale viewer response")

var staleResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "codenav",
	Subsystem: "viewer",
	Name:      "stale_responses_total",
	Help:      "File content responses and selection states dropped as superseded",
})

// ContentFetcher loads the raw content of a project file.
//
// *backend.Client satisfies this interface.
type ContentFetcher interface {
	GetFileContent(ctx context.Context, projectID, path string) (string, error)
}

// View is what the code viewer renders.
type View struct {
	File     identity.FileRef `json:"file"`
	Language string           `json:"language"`
	Content  string           `json:"content"`
	Loading  bool             `json:"loading"`
	Error    string           `json:"error,omitempty"`

	// ScrollLine is the line to reveal for selection state Seq, or nil.
	ScrollLine *int   `json:"scroll_line"`
	Seq        uint64 `json:"seq"`
}

// Empty reports whether no file is shown.
func (v View) Empty() bool { return v.File.IsZero() }

func (v View) clone() View {
	if v.ScrollLine != nil {
		l := *v.ScrollLine
		v.ScrollLine = &l
	}
	return v
}

// Viewer holds the view of one session.
//
// Thread Safety: Safe for concurrent use.
type Viewer struct {
	projectID string
	fetcher   ContentFetcher
	logger    *slog.Logger

	mu       sync.Mutex
	view     View
	token    uint64
	inflight bool
}

// New creates an empty viewer.
func New(projectID string, fetcher ContentFetcher, logger *slog.Logger) *Viewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Viewer{
		projectID: projectID,
		fetcher:   fetcher,
		logger:    logger,
	}
}

// View returns the current view.
func (v *Viewer) View() View {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.view.clone()
}

// Apply brings the view in line with a selection state.
//
// Description:
//
//	States older than the last applied one are ignored. A state for the
//	file already shown only moves the scroll target; any other file is
//	loaded. The content fetch runs without the lock held, and its result
//	is committed only if the same file is still selected and no newer load
//	started meanwhile. A failed fetch shows ErrorText with ErrorPlaceholder
//	as content. A fetch cut short by ctx commits nothing: the view stays
//	loading and the next Apply for that file fetches again.
//
// Inputs:
//
//	ctx - Bounds the content fetch.
//	st - Selection state to apply, typically received from
//	     selection.Controller.Watch.
//
// Outputs:
//
//	View - The view after this call.
//	error - ErrStaleResponse when st or its load was superseded, or the
//	        ctx error when the fetch was cancelled.
func (v *Viewer) Apply(ctx context.Context, st selection.State) (View, error) {
	v.mu.Lock()
	if st.Seq < v.view.Seq {
		view := v.view.clone()
		v.mu.Unlock()
		v.dropStale("selection state", st.File().Path, st.Seq)
		return view, ErrStaleResponse
	}

	v.view.Seq = st.Seq
	v.view.ScrollLine = nil
	if line, ok := st.Line(); ok {
		v.view.ScrollLine = &line
	}

	if !st.HasFile() {
		v.token++
		v.view = View{Seq: st.Seq}
		view := v.view.clone()
		v.mu.Unlock()
		return view, nil
	}

	file := st.File()
	if v.view.File.SameFile(file) && v.view.Error == "" && (!v.view.Loading || v.inflight) {
		view := v.view.clone()
		v.mu.Unlock()
		return view, nil
	}

	v.token++
	token := v.token
	v.view.File = file
	v.view.Language = languageOf(file)
	v.view.Content = ""
	v.view.Error = ""
	v.view.Loading = true
	v.inflight = true
	v.mu.Unlock()

	content, err := v.fetcher.GetFileContent(ctx, v.projectID, file.Path)

	v.mu.Lock()
	defer v.mu.Unlock()
	if token != v.token || !v.view.File.SameFile(file) {
		view := v.view.clone()
		v.dropStale("file content", file.Path, st.Seq)
		return view, ErrStaleResponse
	}

	v.inflight = false
	if err != nil && ctx.Err() != nil {
		v.logger.Debug("file content fetch cancelled",
			slog.String("path", file.Path),
			slog.String("error", err.Error()),
		)
		return v.view.clone(), ctx.Err()
	}

	v.view.Loading = false
	if err != nil {
		v.logger.Warn("file content fetch failed",
			slog.String("project_id", v.projectID),
			slog.String("path", file.Path),
			slog.String("error", err.Error()),
		)
		v.view.Error = ErrorText
		v.view.Content = ErrorPlaceholder
	} else {
		v.view.Content = content
	}
	return v.view.clone(), nil
}

func (v *Viewer) dropStale(what, path string, seq uint64) {
	staleResponsesTotal.Inc()
	v.logger.Debug("stale response dropped",
		slog.String("kind", what),
		slog.String("path", path),
		slog.Uint64("seq", seq),
	)
}

func languageOf(f identity.FileRef) string {
	if f.Language == "" {
		return DefaultLanguage
	}
	return f.Language
}
