package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyway/adminboard/server/internal/cache"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

// Event names.
const (
	EventHello      = "hello"
	EventStatus     = "status"
	EventInvalidate = "invalidate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Status is the payload of hello and status events.
type Status struct {
	Connected bool `json:"connected"`
}

// Invalidation is the payload of invalidate events.
type Invalidation struct {
	Keys []cache.Key `json:"keys"`
}

// Hub manages WebSocket client connections and fans out invalidation batches.
type Hub struct {
	connected func() bool
	interval  time.Duration

	mu       sync.RWMutex
	clients  map[*client]struct{}
	lastUp   bool
	messages uint64
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub. connected may be nil, in which case the transport is
// always reported as down.
func New(connected func() bool, interval time.Duration) *Hub {
	if connected == nil {
		connected = func() bool { return false }
	}
	return &Hub{
		connected: connected,
		interval:  interval,
		clients:   make(map[*client]struct{}),
	}
}

// Run polls the transport status every interval and broadcasts a status event
// whenever it changes. Run blocks until ctx is cancelled, then closes all
// active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	h.mu.Lock()
	h.lastUp = h.connected()
	h.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			up := h.connected()
			h.mu.Lock()
			changed := up != h.lastUp
			h.lastUp = up
			h.mu.Unlock()
			if changed {
				slog.Info("ws: transport status changed", "connected", up)
				h.broadcast(EventStatus, Status{Connected: up})
			}
		}
	}
}

// Notify broadcasts one invalidation batch to every client. Empty batches are
// dropped.
func (h *Hub) Notify(keys []cache.Key) {
	if len(keys) == 0 {
		return
	}
	h.broadcast(EventInvalidate, Invalidation{Keys: keys})
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// It sends a hello event immediately, then relays broadcasts until the
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(c)
	defer h.unregister(c)

	if data, err := encode(EventHello, Status{Connected: h.connected()}); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcasts returns how many messages have been fanned out since start.
func (h *Hub) Broadcasts() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.messages
}

// --- internal ---------------------------------------------------------------

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(Message{Event: event, Data: data})
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(event string, payload any) {
	data, err := encode(event, payload)
	if err != nil {
		slog.Warn("ws: encode failed", "event", event, "err", err)
		return
	}

	// Sends happen under the lock so unregister cannot close a channel mid-send.
	var slow []*client
	h.mu.Lock()
	h.messages++
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		slog.Debug("ws: dropping slow client")
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames to process control messages and detect disconnects.
// Browsers send nothing else.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
