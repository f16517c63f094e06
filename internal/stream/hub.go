package stream

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/papertrade/market-engine/internal/metrics"
)

var (
	ErrQueueFull    = errors.New("stream: client send queue full")
	ErrClientClosed = errors.New("stream: client closed")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096

	// DefaultSendBuffer is the per-client outbound queue length.
	DefaultSendBuffer = 256
)

// Message is the JSON envelope for every frame in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub accepts WebSocket connections and routes their subscribe and
// unsubscribe requests to a Broadcaster.
type Hub struct {
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	sendBuffer  int

	mu      sync.Mutex
	clients map[string]*client
}

// NewHub creates a hub. allowedOrigins is a comma-separated list; "*" or
// an empty string accepts any origin.
func NewHub(b *Broadcaster, allowedOrigins string) *Hub {
	return &Hub{
		broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		sendBuffer: DefaultSendBuffer,
		clients:    make(map[string]*client),
	}
}

func originChecker(allowed string) func(*http.Request) bool {
	allowed = strings.TrimSpace(allowed)
	if allowed == "" || allowed == "*" {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{})
	for _, o := range strings.Split(allowed, ",") {
		set[strings.TrimSpace(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. It blocks
// for the lifetime of the connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	h.readPump(r, c)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Inc()
	slog.Info("ws client connected", "client", c.id, "total", total)
}

func (h *Hub) unregister(c *client) {
	h.broadcaster.Remove(c)
	c.close()

	h.mu.Lock()
	delete(h.clients, c.id)
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Dec()
	slog.Info("ws client disconnected", "client", c.id, "total", total)
}

// readPump reads client requests until the connection fails or closes.
func (h *Hub) readPump(r *http.Request, c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws read failed", "client", c.id, "err", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Send(EventError, ErrorPayload{Message: "invalid message"})
			continue
		}

		switch msg.Event {
		case EventSubscribe, EventUnsubscribe:
			var p SymbolsPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil || p.Symbols == nil {
				c.Send(EventError, ErrorPayload{Message: "invalid symbols array"})
				continue
			}
			if msg.Event == EventSubscribe {
				h.broadcaster.Subscribe(r.Context(), c, p.Symbols)
			} else {
				h.broadcaster.Unsubscribe(c, p.Symbols)
			}
		default:
			c.Send(EventError, ErrorPayload{Message: "unknown event: " + msg.Event})
		}
	}
}

// client is one WebSocket connection. Outbound frames go through a
// bounded queue drained by writePump; send is never closed, done is.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) ID() string { return c.id }

// Send enqueues one event without blocking.
func (c *client) Send(event string, payload any) error {
	data, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump drains the send queue and keeps the connection alive through
// proxies with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
