// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// clientBuffer is the per-client send queue depth. A client that cannot
// keep up is dropped rather than allowed to block the pipeline.
const clientBuffer = 64

// Hub is a websocket-backed Notifier that fans events out to connected
// viewers.
//
// The hub owns only the fan-out: connection upgrade and read-loop handling
// live in the HTTP layer, which registers each accepted connection here.
//
// Thread Safety: safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
	logger  *slog.Logger
}

type hubClient struct {
	conn *websocket.Conn
	send chan Event
	done chan struct{}
}

// NewHub creates an empty hub. A nil logger disables hub logging.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		logger:  logger,
	}
}

// Register adds an upgraded websocket connection to the hub and starts its
// writer goroutine. The hub owns the connection from this point and closes
// it when the client is dropped or the hub shuts down.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &hubClient{
		conn: conn,
		send: make(chan Event, clientBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
}

func (h *Hub) writeLoop(c *hubClient) {
	defer func() {
		_ = c.conn.Close()
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		case e, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(e); err != nil {
				h.logger.Debug("websocket client dropped", "error", err)
				return
			}
		}
	}
}

// Publish fans the event out to every connected client. Slow clients are
// disconnected instead of blocking the caller.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			h.logger.Warn("dropping slow websocket client",
				"kind", e.Kind, "subject_id", e.SubjectID)
			close(c.done)
			delete(h.clients, c)
		}
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects future registrations.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		close(c.done)
		delete(h.clients, c)
	}
	return nil
}
