// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package structure

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/codenav/services/codenav/backend"
	"github.com/AleutianAI/codenav/services/codenav/identity"
)

// ErrStaleResponse is returned by Load when the selection moved on before
// the metadata arrived, or when the load belongs to an older selection.
// The result was discarded.
var ErrStaleResponse = errors.New("stale metadata response")

var staleMetadataTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "codenav",
	Subsystem: "structure",
	Name:      "stale_responses_total",
	Help:      "Metadata responses dropped because the selected file changed",
})

// MetadataFetcher looks up the symbol metadata of one file.
//
// *backend.Client satisfies this interface.
type MetadataFetcher interface {
	GetMetadata(ctx context.Context, projectID, path string) (*backend.FileMetadata, error)
}

// Panel holds the structure model of a session's selected file.
//
// Thread Safety: Safe for concurrent use.
type Panel struct {
	projectID string
	fetcher   MetadataFetcher
	logger    *slog.Logger

	mu       sync.Mutex
	model    Model
	token    uint64
	seq      uint64
	inflight bool
}

// NewPanel creates a panel in the idle state.
func NewPanel(projectID string, fetcher MetadataFetcher, logger *slog.Logger) *Panel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Panel{
		projectID: projectID,
		fetcher:   fetcher,
		logger:    logger,
		model:     Idle(),
	}
}

// Model returns the current panel model.
func (p *Panel) Model() Model {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

// Load fetches metadata for file and commits the resulting model.
//
// Description:
//
//	seq is the selection sequence number the file was selected at. Loads
//	for a seq older than the last one seen are dropped at once, so a slow
//	caller holding an old selection cannot take over the panel. A load for
//	the file already shown is a no-op. Otherwise the panel enters
//	StatusLoading and the fetch runs without the lock held; its result is
//	committed only if no later Load or Reset happened in between. Fetch
//	failures degrade to the no-metadata state with Degraded set and are
//	not returned as errors. A fetch cut short by ctx commits nothing and
//	leaves the panel loading until the next Load.
//
// Inputs:
//
//	ctx - Bounds the metadata fetch.
//	file - The newly selected file.
//	seq - Selection sequence number of file.
//
// Outputs:
//
//	Model - The model committed by this call, or the current model when stale.
//	error - ErrStaleResponse when the result was discarded, or the ctx
//	        error when the fetch was cancelled.
func (p *Panel) Load(ctx context.Context, file identity.FileRef, seq uint64) (Model, error) {
	p.mu.Lock()
	if seq < p.seq {
		current := p.model
		p.mu.Unlock()
		p.dropStale(file.Path, seq)
		return current, ErrStaleResponse
	}
	p.seq = seq

	if file.IsZero() {
		p.token++
		p.inflight = false
		p.model = Idle()
		current := p.model
		p.mu.Unlock()
		return current, nil
	}
	if p.model.File.SameFile(file) && (p.model.Status != StatusLoading || p.inflight) {
		current := p.model
		p.mu.Unlock()
		return current, nil
	}

	p.token++
	token := p.token
	loading := Idle()
	loading.Status = StatusLoading
	loading.Message = ""
	loading.File = file
	p.model = loading
	p.inflight = true
	p.mu.Unlock()

	meta, err := p.fetcher.GetMetadata(ctx, p.projectID, file.Path)

	p.mu.Lock()
	defer p.mu.Unlock()
	if token != p.token {
		p.dropStale(file.Path, seq)
		return p.model, ErrStaleResponse
	}
	p.inflight = false
	if err != nil && ctx.Err() != nil {
		p.logger.Debug("metadata fetch cancelled",
			slog.String("path", file.Path),
			slog.String("error", err.Error()),
		)
		return p.model, ctx.Err()
	}

	var next Model
	if err != nil {
		p.logger.Warn("metadata fetch failed",
			slog.String("project_id", p.projectID),
			slog.String("path", file.Path),
			slog.String("error", err.Error()),
		)
		next = Build(file, nil)
		next.Degraded = degradedReason(err)
	} else {
		next = Build(file, meta)
	}
	p.model = next
	return next, nil
}

func (p *Panel) dropStale(path string, seq uint64) {
	staleMetadataTotal.Inc()
	p.logger.Debug("stale metadata response dropped",
		slog.String("path", path),
		slog.Uint64("seq", seq),
	)
}

// Reset returns the panel to the idle state and invalidates in-flight loads.
func (p *Panel) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token++
	p.inflight = false
	p.model = Idle()
}

func degradedReason(err error) string {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return "not_found"
	case errors.Is(err, backend.ErrTransport):
		return "backend_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
