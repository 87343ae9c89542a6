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
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Event types carried in EventMessage.Type.
const (
	EventSelection = "selection"
	EventAck       = "ack"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = (eventPongWait * 9) / 10
	eventMaxMessage = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleEvents handles GET /v1/codenav/sessions/:id/events.
//
// Description:
//
//	Upgrades to a websocket and streams the session's selection state. The
//	current state is sent first, then every change; a slow client only sees
//	the latest state. Clients acknowledge a revealed scroll line by sending
//	{"type":"ack","seq":N}. The stream ends when either side closes.
//
// Thread Safety: One writer goroutine per connection; the read loop only
// handles acks and control frames.
func (h *Handlers) HandleEvents(c *gin.Context) {
	logger := h.requestLogger(c, "HandleEvents")
	s, ok := h.lookup(c, logger)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := s.Watch(ctx)
	go readAcks(conn, cancel, func(seq uint64) {
		if s.AckScroll(ctx, seq) {
			logger.Debug("scroll target acknowledged", slog.Uint64("seq", seq))
		}
	}, logger)

	ticker := time.NewTicker(eventPingPeriod)
	defer ticker.Stop()

	logger.Info("event stream opened", slog.String("session_id", s.ID()))
	for {
		select {
		case st, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(eventWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(EventMessage{Type: EventSelection, Seq: st.Seq, State: &st}); err != nil {
				logger.Debug("event write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readAcks consumes client frames until the connection fails, then cancels
// the stream.
func readAcks(conn *websocket.Conn, cancel context.CancelFunc, onAck func(uint64), logger *slog.Logger) {
	defer cancel()
	conn.SetReadLimit(eventMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	for {
		var msg EventMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("event stream read failed", slog.String("error", err.Error()))
			}
			return
		}
		if msg.Type == EventAck && msg.Seq > 0 {
			onAck(msg.Seq)
		}
	}
}
