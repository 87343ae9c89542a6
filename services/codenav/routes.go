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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all codenav routes with the router.
//
// Description:
//
//	Registers all /v1/codenav/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	h - The handlers instance
//
// Session Endpoints:
//
//	POST   /v1/codenav/sessions - Ingest a repository and open a session
//	GET    /v1/codenav/sessions - List open sessions
//	GET    /v1/codenav/sessions/:id - Session summary
//	DELETE /v1/codenav/sessions/:id - Dispose a session
//
// Browsing Endpoints:
//
//	GET  /v1/codenav/sessions/:id/tree - Tree with visible rows
//	POST /v1/codenav/sessions/:id/tree/toggle - Toggle a folder
//	POST /v1/codenav/sessions/:id/tree/collapse - Close every folder
//	POST /v1/codenav/sessions/:id/tree/expand - Open every folder
//	POST /v1/codenav/sessions/:id/select - Open a file
//	POST /v1/codenav/sessions/:id/navigate/symbol - Jump to a symbol of the open file
//	POST /v1/codenav/sessions/:id/navigate/ref - Jump to a caller or callee
//	POST /v1/codenav/sessions/:id/expand - Callers and callees of a symbol
//	POST /v1/codenav/sessions/:id/prefetch - Warm expansions of the open file
//	POST /v1/codenav/sessions/:id/viewer/ack - Acknowledge a scroll target
//	GET  /v1/codenav/sessions/:id/viewer - Viewer model
//	GET  /v1/codenav/sessions/:id/structure - Structure panel model
//	GET  /v1/codenav/sessions/:id/events - Websocket stream of selections
//
// Health Endpoints:
//
//	GET  /v1/codenav/health - Health check
//	GET  /v1/codenav/ready - Readiness check
//	GET  /v1/codenav/debug/sessions/:id/cache - Dependency cache stats
//
// Example:
//
//	handlers := codenav.NewHandlers(registry, logger)
//
//	v1 := router.Group("/v1")
//	codenav.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	nav := rg.Group("/codenav")
	{
		nav.POST("/sessions", h.HandleOpen)
		nav.GET("/sessions", h.HandleList)

		s := nav.Group("/sessions/:id")
		{
			s.GET("", h.HandleGetSession)
			s.DELETE("", h.HandleClose)

			s.GET("/tree", h.HandleTree)
			s.POST("/tree/toggle", h.HandleToggle)
			s.POST("/tree/collapse", h.HandleCollapseAll)
			s.POST("/tree/expand", h.HandleExpandAll)

			s.POST("/select", h.HandleSelect)
			s.POST("/navigate/symbol", h.HandleNavigateSymbol)
			s.POST("/navigate/ref", h.HandleNavigateRef)

			s.POST("/expand", h.HandleExpand)
			s.POST("/prefetch", h.HandlePrefetch)

			s.POST("/viewer/ack", h.HandleAck)
			s.GET("/viewer", h.HandleViewer)
			s.GET("/structure", h.HandleStructure)

			s.GET("/events", h.HandleEvents)
		}

		nav.GET("/health", h.HandleHealth)
		nav.GET("/ready", h.HandleReady)

		debug := nav.Group("/debug")
		{
			debug.GET("/sessions/:id/cache", h.HandleCacheStats)
		}
	}
}
