// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge_graph

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/governance"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

const (
	eventApprovalRequired = "approval_required"

	clientBuffer = 32
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ApprovalHub pushes approval-required change requests to websocket
// clients.
//
// # Description
//
// Register Notify with Governor.OnApprovalRequired. Every connected client
// receives each event as a JSON ApprovalEvent text frame. A client that
// falls clientBuffer events behind is disconnected rather than slowing
// the others.
//
// # Thread Safety
//
// Safe for concurrent use.
type ApprovalHub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
	once   sync.Once
}

// NewApprovalHub creates an empty hub.
func NewApprovalHub(logger *slog.Logger) *ApprovalHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalHub{
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
	}
}

// Attach subscribes the hub to gov's approval notifications.
func (h *ApprovalHub) Attach(gov *governance.Governor) {
	gov.OnApprovalRequired(h.Notify)
}

// Notify broadcasts req. It satisfies governance.ApprovalCallback.
func (h *ApprovalHub) Notify(_ context.Context, req graph.ChangeRequest) error {
	msg, err := json.Marshal(ApprovalEvent{Type: eventApprovalRequired, Change: req})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("approval stream client too slow, disconnecting",
				slog.String("remote", c.remote),
			)
			h.dropLocked(c)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *ApprovalHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *ApprovalHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

// HandleStream handles GET /v1/graph/changes/stream.
//
// Upgrades to a websocket and streams ApprovalEvent messages until the
// client disconnects. Inbound messages are ignored.
func (h *ApprovalHub) HandleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("approval stream upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &hubClient{conn: conn, remote: conn.RemoteAddr().String(), send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("approval stream client connected", slog.String("remote", client.remote))

	go h.writeLoop(client)
	h.readLoop(client)
}

// readLoop drains inbound frames so pongs and close frames are processed.
func (h *ApprovalHub) readLoop(c *hubClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *ApprovalHub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *ApprovalHub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.dropLocked(c)
		h.logger.Info("approval stream client disconnected", slog.String("remote", c.remote))
	}
}

// dropLocked unregisters c and ends its write loop. h.mu must be held.
func (h *ApprovalHub) dropLocked(c *hubClient) {
	delete(h.clients, c)
	c.once.Do(func() { close(c.send) })
}
