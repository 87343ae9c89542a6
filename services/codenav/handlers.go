// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codenav exposes browsing sessions over HTTP.
package codenav

import (
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/codenav/services/codenav/backend"
	"github.com/AleutianAI/codenav/services/codenav/identity"
	"github.com/AleutianAI/codenav/services/codenav/session"
	"github.com/AleutianAI/codenav/services/codenav/structure"
	"github.com/AleutianAI/codenav/services/codenav/tree"
)

// RequestIDHeader carries the caller's request id, echoed on the response.
const RequestIDHeader = "X-Request-ID"

// Handlers serves the codenav HTTP API.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	registry *session.Registry
	logger   *slog.Logger
	ready    atomic.Bool
}

// NewHandlers creates handlers over a session registry.
//
// The handlers start ready; call SetReady(false) while draining.
func NewHandlers(registry *session.Registry, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{registry: registry, logger: logger}
	h.ready.Store(true)
	return h
}

// SetReady flips the readiness probe.
func (h *Handlers) SetReady(ready bool) { h.ready.Store(ready) }

func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(RequestIDHeader, id)
	return id
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", handler),
	)
}

// writeError maps a domain error to a status code and error code.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrSessionClosed):
		status, code = http.StatusNotFound, CodeSessionNotFound
	case errors.Is(err, session.ErrInvalidURL):
		status, code = http.StatusBadRequest, CodeMissingParameter
	case errors.Is(err, session.ErrTooManySessions):
		status, code = http.StatusTooManyRequests, CodeTooManySessions
	case errors.Is(err, session.ErrFileNotFound), errors.Is(err, session.ErrNotAFolder):
		status, code = http.StatusNotFound, CodeFileNotFound
	case errors.Is(err, backend.ErrIngest):
		status, code = http.StatusUnprocessableEntity, CodeIngestFailed
	case errors.Is(err, backend.ErrTransport):
		status, code = http.StatusBadGateway, CodeBackendUnavailable
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()), slog.Int("status", status))
	} else {
		logger.Info("request rejected", slog.String("error", err.Error()), slog.Int("status", status))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: CodeMissingParameter})
}

// lookup resolves the :id path parameter or writes the error response.
func (h *Handlers) lookup(c *gin.Context, logger *slog.Logger) (*session.Session, bool) {
	s, err := h.registry.Get(c.Param("id"))
	if err != nil {
		writeError(c, logger, err)
		return nil, false
	}
	return s, true
}

// HandleOpen handles POST /v1/codenav/sessions.
//
// Description:
//
//	Ingests the repository, opens a session on it and answers with the
//	normalized tree. Indexing of the project starts in the background.
//
// Response:
//
//	201 Created: OpenResponse
//	400 Bad Request: Missing url
//	422 Unprocessable Entity: Backend rejected the repository
//	429 Too Many Requests: Session limit reached
//	502 Bad Gateway: Backend unreachable
func (h *Handlers) HandleOpen(c *gin.Context) {
	logger := h.requestLogger(c, "HandleOpen")

	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "url is required")
		return
	}

	s, err := h.registry.Open(c.Request.Context(), req.URL)
	if err != nil {
		writeError(c, logger, err)
		return
	}

	files, folders := tree.Count(s.Tree())
	c.JSON(http.StatusCreated, OpenResponse{
		SessionID: s.ID(),
		ProjectID: s.ProjectID(),
		Tree:      s.Tree(),
		Files:     files,
		Folders:   folders,
	})
}

// HandleList handles GET /v1/codenav/sessions.
func (h *Handlers) HandleList(c *gin.Context) {
	c.JSON(http.StatusOK, ListResponse{Sessions: h.registry.List()})
}

// HandleGetSession handles GET /v1/codenav/sessions/:id.
func (h *Handlers) HandleGetSession(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetSession")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Summary())
}

// HandleClose handles DELETE /v1/codenav/sessions/:id.
func (h *Handlers) HandleClose(c *gin.Context) {
	logger := h.requestLogger(c, "HandleClose")
	if err := h.registry.Close(c.Param("id")); err != nil {
		writeError(c, logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleTree handles GET /v1/codenav/sessions/:id/tree.
func (h *Handlers) HandleTree(c *gin.Context) {
	logger := h.requestLogger(c, "HandleTree")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, TreeResponse{Nodes: s.Tree(), Rows: s.Rows()})
}

// HandleCollapseAll handles POST /v1/codenav/sessions/:id/tree/collapse.
func (h *Handlers) HandleCollapseAll(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCollapseAll")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	s.CollapseAll()
	c.JSON(http.StatusOK, TreeResponse{Nodes: s.Tree(), Rows: s.Rows()})
}

// HandleExpandAll handles POST /v1/codenav/sessions/:id/tree/expand.
func (h *Handlers) HandleExpandAll(c *gin.Context) {
	logger := h.requestLogger(c, "HandleExpandAll")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	s.ExpandAll()
	c.JSON(http.StatusOK, TreeResponse{Nodes: s.Tree(), Rows: s.Rows()})
}

// HandleToggle handles POST /v1/codenav/sessions/:id/tree/toggle.
func (h *Handlers) HandleToggle(c *gin.Context) {
	logger := h.requestLogger(c, "HandleToggle")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	var req PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "path is required")
		return
	}
	open, err := s.ToggleFolder(req.Path)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ToggleResponse{Path: req.Path, Open: open})
}

// HandleSelect handles POST /v1/codenav/sessions/:id/select.
//
// Response:
//
//	200 OK: session.Update with the loaded viewer and structure panel
//	404 Not Found: Unknown session or path is not a file of the tree
func (h *Handlers) HandleSelect(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSelect")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	var req PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "path is required")
		return
	}
	up, err := s.SelectFile(c.Request.Context(), req.Path)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, up)
}

// HandleNavigateSymbol handles POST /v1/codenav/sessions/:id/navigate/symbol.
//
// A symbol without a line answers 200 with navigated false.
func (h *Handlers) HandleNavigateSymbol(c *gin.Context) {
	logger := h.requestLogger(c, "HandleNavigateSymbol")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	var req SymbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid symbol body")
		return
	}
	up, err := s.NavigateSymbol(c.Request.Context(), structure.Symbol{
		Kind:        req.Kind,
		Name:        req.Name,
		Line:        req.Line,
		ParentClass: req.ParentClass,
	})
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, up)
}

// HandleNavigateRef handles POST /v1/codenav/sessions/:id/navigate/ref.
//
// A reference without a file path or line answers 200 with navigated false.
func (h *Handlers) HandleNavigateRef(c *gin.Context) {
	logger := h.requestLogger(c, "HandleNavigateRef")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	var req RefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid reference body")
		return
	}
	up, err := s.NavigateRef(c.Request.Context(), backend.DependencyRef{
		Identity:     req.Identity,
		DisplayLabel: req.DisplayLabel,
		FilePath:     req.FilePath,
		LineNumber:   req.LineNumber,
	})
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if !up.Navigated {
		logger.Debug("reference without target ignored", slog.String("identity", string(req.Identity)))
	}
	c.JSON(http.StatusOK, up)
}

// HandleExpand handles POST /v1/codenav/sessions/:id/expand.
//
// Description:
//
//	Requests the callers and callees of a symbol. Without wait the current
//	expansion state is returned at once, so a first call answers loading.
//	Failed expansions stay failed until requested again with retry.
//
// Response:
//
//	200 OK: structure.Expansion
//	400 Bad Request: Missing or malformed identity
func (h *Handlers) HandleExpand(c *gin.Context) {
	logger := h.requestLogger(c, "HandleExpand")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	var req ExpandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "identity is required")
		return
	}
	id, err := identity.Parse(string(req.Identity))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	var exp structure.Expansion
	if req.Retry {
		exp = s.RetryExpand(ctx, id, req.Wait)
	} else {
		exp = s.Expand(ctx, id, req.Wait)
	}
	logger.Debug("expand",
		slog.String("identity", id.String()),
		slog.String("status", string(exp.Status)),
	)
	c.JSON(http.StatusOK, exp)
}

// HandlePrefetch handles POST /v1/codenav/sessions/:id/prefetch.
func (h *Handlers) HandlePrefetch(c *gin.Context) {
	logger := h.requestLogger(c, "HandlePrefetch")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	n, err := s.Prefetch(c.Request.Context())
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, PrefetchResponse{Requested: n})
}

// HandleAck handles POST /v1/codenav/sessions/:id/viewer/ack.
func (h *Handlers) HandleAck(c *gin.Context) {
	logger := h.requestLogger(c, "HandleAck")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	var req AckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "seq is required")
		return
	}
	c.JSON(http.StatusOK, AckResponse{Cleared: s.AckScroll(c.Request.Context(), req.Seq)})
}

// HandleViewer handles GET /v1/codenav/sessions/:id/viewer.
func (h *Handlers) HandleViewer(c *gin.Context) {
	logger := h.requestLogger(c, "HandleViewer")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.View())
}

// HandleStructure handles GET /v1/codenav/sessions/:id/structure.
func (h *Handlers) HandleStructure(c *gin.Context) {
	logger := h.requestLogger(c, "HandleStructure")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Structure())
}

// HandleCacheStats handles GET /v1/codenav/debug/sessions/:id/cache.
func (h *Handlers) HandleCacheStats(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCacheStats")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, CacheStatsResponse{
		SessionID: s.ID(),
		ProjectID: s.ProjectID(),
		Stats:     s.CacheStats(),
		Watchers:  s.Watchers(),
	})
}

// HandleHealth handles GET /v1/codenav/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Sessions: h.registry.Len()})
}

// HandleReady handles GET /v1/codenav/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	if !h.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "draining", Sessions: h.registry.Len()})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ready", Sessions: h.registry.Len()})
}
