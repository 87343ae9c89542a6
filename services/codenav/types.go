// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codenav

import (
	"github.com/AleutianAI/codenav/services/codenav/depcache"
	"github.com/AleutianAI/codenav/services/codenav/identity"
	"github.com/AleutianAI/codenav/services/codenav/selection"
	"github.com/AleutianAI/codenav/services/codenav/session"
	"github.com/AleutianAI/codenav/services/codenav/structure"
	"github.com/AleutianAI/codenav/services/codenav/tree"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeMissingParameter   = "MISSING_PARAMETER"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeIngestFailed       = "INGEST_FAILED"
	CodeFileNotFound       = "FILE_NOT_FOUND"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeTooManySessions    = "TOO_MANY_SESSIONS"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// OpenRequest is the body of POST /v1/codenav/sessions.
type OpenRequest struct {
	URL string `json:"url" binding:"required"`
}

// OpenResponse answers a successful open.
type OpenResponse struct {
	SessionID string      `json:"session_id"`
	ProjectID string      `json:"project_id"`
	Tree      []tree.Node `json:"tree"`
	Files     int         `json:"files"`
	Folders   int         `json:"folders"`
}

// TreeResponse is the tree with its current expansion.
type TreeResponse struct {
	Nodes []tree.Node `json:"nodes"`
	Rows  []tree.Row  `json:"rows"`
}

// PathRequest carries a project-relative path.
type PathRequest struct {
	Path string `json:"path" binding:"required"`
}

// ToggleResponse reports a folder's state after a toggle.
type ToggleResponse struct {
	Path string `json:"path"`
	Open bool   `json:"open"`
}

// SymbolRequest is the body of POST .../navigate/symbol.
type SymbolRequest struct {
	Kind        structure.SymbolKind `json:"kind"`
	Name        string               `json:"name"`
	Line        int                  `json:"line"`
	ParentClass string               `json:"parent_class"`
}

// RefRequest is the body of POST .../navigate/ref.
type RefRequest struct {
	Identity     identity.ID `json:"identity"`
	DisplayLabel string      `json:"display_label"`
	FilePath     string      `json:"file_path"`
	LineNumber   int         `json:"line_number"`
}

// ExpandRequest is the body of POST .../expand.
type ExpandRequest struct {
	Identity identity.ID `json:"identity" binding:"required"`

	// Wait blocks until the expansion settles or the request ends.
	Wait bool `json:"wait"`

	// Retry re-attempts a failed expansion.
	Retry bool `json:"retry"`
}

// AckRequest is the body of POST .../viewer/ack.
type AckRequest struct {
	Seq uint64 `json:"seq" binding:"required"`
}

// AckResponse reports whether the scroll target was cleared.
type AckResponse struct {
	Cleared bool `json:"cleared"`
}

// PrefetchResponse reports how many symbols were warmed.
type PrefetchResponse struct {
	Requested int `json:"requested"`
}

// ListResponse lists open sessions.
type ListResponse struct {
	Sessions []session.Summary `json:"sessions"`
}

// CacheStatsResponse is the debug view of one session's dependency cache.
type CacheStatsResponse struct {
	SessionID string         `json:"session_id"`
	ProjectID string         `json:"project_id"`
	Stats     depcache.Stats `json:"stats"`

	// Watchers counts open /events subscriptions of the session.
	Watchers int `json:"watchers"`
}

// HealthResponse answers health and readiness probes.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// EventMessage is exchanged over the events websocket.
//
// The server sends Type "selection" with State set. Clients send Type "ack"
// with Seq set once the viewer revealed the scroll line.
type EventMessage struct {
	Type  string           `json:"type"`
	Seq   uint64           `json:"seq,omitempty"`
	State *selection.State `json:"state,omitempty"`
}
