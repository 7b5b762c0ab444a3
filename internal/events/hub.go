// Package events fans session events and audio cues out to connected kiosk
// viewers over WebSocket. The hub serializes all client membership and writes
// through a single goroutine, so callers may broadcast from any goroutine.
package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/gorilla/websocket"
)

// broadcastBuffer bounds how many pending broadcasts may queue before
// Broadcast starts dropping. Viewers are a visualization, not a ledger;
// dropping under backpressure beats stalling the scan controller.
const broadcastBuffer = 64

// Hub tracks connected viewers and broadcasts JSON payloads to all of them.
type Hub struct {
	logger *slog.Logger

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	count      chan chan int
}

// Option configures the hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New builds a hub. Run must be started before clients attach.
func New(opts ...Option) *Hub {
	h := &Hub{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, broadcastBuffer),
		count:      make(chan chan int),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run owns the client set until ctx is cancelled. All writes happen here; a
// client whose write fails is evicted and closed.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[*websocket.Conn]struct{})
	defer func() {
		for conn := range clients {
			conn.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			clients[conn] = struct{}{}
			h.logger.Info("viewer connected", "viewers", len(clients))

		case conn := <-h.unregister:
			if _, ok := clients[conn]; ok {
				delete(clients, conn)
				conn.Close()
			}
			h.logger.Info("viewer disconnected", "viewers", len(clients))

		case resp := <-h.count:
			resp <- len(clients)

		case payload := <-h.broadcast:
			for conn := range clients {
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					h.logger.Warn("viewer write failed, evicting", "error", err)
					delete(clients, conn)
					conn.Close()
				}
			}
		}
	}
}

// Attach registers a viewer connection and starts its read pump. Viewers
// never send application data; the pump exists to detect disconnects and
// answer control frames.
func (h *Hub) Attach(conn *websocket.Conn) {
	h.register <- conn
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.unregister <- conn
				return
			}
		}
	}()
}

// Viewers reports how many viewers are attached.
func (h *Hub) Viewers() int {
	resp := make(chan int, 1)
	h.count <- resp
	return <-resp
}

// Broadcast marshals v and queues it for every connected viewer. The payload
// is dropped, with a warning, if the hub is saturated.
func (h *Hub) Broadcast(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("broadcast marshal failed", "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast queue full, dropping event")
	}
}
