// Package gateway – websocket.go relays pipeline events to dashboard
// clients over WebSocket. The relay is one-way: clients connect, the hub
// fans out every frame the streaming endpoints emit, and inbound client
// frames are discarded. A slow client is dropped rather than allowed to
// stall the fan-out.
package gateway

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks connected dashboard clients and broadcasts event frames.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With("component", "gateway"),
		conns:  make(map[*client]struct{}),
	}
}

// HandleWS upgrades the connection and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Debug("dashboard client connected", "clients", n)

	go h.writeLoop(c)
	h.readLoop(c)
}

// Broadcast fans one frame out to every connected client. Clients whose
// send buffer is full are disconnected.
func (h *Hub) Broadcast(frame []byte) {
	buf := append([]byte(nil), frame...)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.send <- buf:
		default:
			h.dropLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) writeLoop(c *client) {
	for frame := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.Close()
}

// readLoop discards inbound frames; its only job is noticing disconnects.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	close(c.send)
	c.conn.Close()
}
