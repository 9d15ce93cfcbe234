// Package websocket pushes case projections to connected browsers. One hub,
// many clients; slow consumers get dropped, never waited on.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/transition"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 32
	maxMessageSize = 512
)

// Update is the wire format pushed to clients.
type Update struct {
	Kind       string                 `json:"kind"`
	CaseID     int64                  `json:"case_id"`
	Projection *transition.Projection `json:"projection"`
	At         time.Time              `json:"at"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub implements port.LiveUpdatePublisher over websocket connections and
// http.Handler for the upgrade endpoint.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates a hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Operator UI runs on its own origin; auth happens upstream.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Websocket client connected", zap.Int("clients", count))

	go h.writePump(c)
	go h.readPump(c)
}

// PublishProjection broadcasts a committed case projection.
func (h *Hub) PublishProjection(caseID int64, projection *transition.Projection) {
	h.broadcast("projection", caseID, projection)
}

// PublishPortalUpdate broadcasts a portal status change.
func (h *Hub) PublishPortalUpdate(caseID int64, projection *transition.Projection) {
	h.broadcast("portal", caseID, projection)
}

// broadcast fans an update out without blocking: a client whose buffer is
// full misses the update and will catch up from the REST API.
func (h *Hub) broadcast(kind string, caseID int64, projection *transition.Projection) {
	payload, err := json.Marshal(Update{
		Kind:       kind,
		CaseID:     caseID,
		Projection: projection,
		At:         time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("Failed to encode live update", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Debug("Dropping update for slow client", zap.Int64("case_id", caseID))
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
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
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close messages get processed.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
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

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		_ = c.conn.Close()
	}
}

// Verify interface compliance
var _ port.LiveUpdatePublisher = (*Hub)(nil)
