// Package hub fans lifecycle events out to connected live viewers.
package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub holds the set of connected viewers.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Hub. checkOrigin may be nil to accept any origin.
func New(logger *slog.Logger, checkOrigin func(*http.Request) bool) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		clients:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger,
		now:      time.Now,
	}
}

// ServeHTTP upgrades the request and keeps the viewer registered until its
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	// The greeting goes out before the viewer can receive broadcasts, so
	// connection is always its first event.
	c := &client{conn: conn}
	if data, err := json.Marshal(Connection(h.now())); err == nil {
		if err := c.write(data); err != nil {
			conn.Close()
			return
		}
	}
	h.add(c)
	h.logger.Info("viewer connected", "remote", r.RemoteAddr, "clients", h.Count())

	// Viewers never send anything meaningful; reading drives close detection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
	h.logger.Info("viewer disconnected", "remote", r.RemoteAddr, "clients", h.Count())
}

// Broadcast sends ev to every viewer. A viewer whose write fails is dropped;
// the others are unaffected.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", "type", ev.Type, "error", err)
		return
	}

	for _, c := range h.snapshot() {
		if err := c.write(data); err != nil {
			h.logger.Warn("dropping viewer", "type", ev.Type, "error", err)
			h.remove(c)
		}
	}
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		h.remove(c)
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}
