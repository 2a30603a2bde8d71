// Package devserver pushes live-reload events to preview clients over
// WebSocket while a dev session runs.
package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Mindburn-Labs/appdev/pkg/extension"
)

// Event types sent to clients.
const (
	EventConnected = "connected"
	EventUpdate    = "update"
)

// Build statuses carried by update events.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// ExtensionPayload describes one extension in an event.
type ExtensionPayload struct {
	UUID   string `json:"uuid"`
	Handle string `json:"handle"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Event is the message written to every client.
type Event struct {
	Event      string             `json:"event"`
	Version    string             `json:"version"`
	Extensions []ExtensionPayload `json:"extensions,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

const protocolVersion = "1"

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected preview clients and fans events out to them.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: slog.Default().With("component", "devserver"),
		now:    time.Now,
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if msg, err := json.Marshal(Event{Event: EventConnected, Version: protocolVersion, Timestamp: h.now()}); err == nil {
		c.send <- msg
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
	go h.readLoop(c)
}

// readLoop discards client messages and unregisters on disconnect.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast sends ev to every client. Slow clients whose buffer is full
// miss the event.
func (h *Hub) Broadcast(ev Event) {
	if ev.Version == "" {
		ev.Version = protocolVersion
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now()
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping event for slow client", "event", ev.Event)
		}
	}
}

// NotifyUpdate broadcasts the outcome of a rebuild of ext.
func (h *Hub) NotifyUpdate(ext *extension.Instance, buildErr error) {
	p := ExtensionPayload{
		UUID:   ext.DevUUID,
		Handle: ext.Handle,
		Type:   ext.Specification.Identifier,
		Status: StatusSuccess,
	}
	if buildErr != nil {
		p.Status = StatusError
		p.Error = buildErr.Error()
	}
	h.Broadcast(Event{Event: EventUpdate, Extensions: []ExtensionPayload{p}})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
