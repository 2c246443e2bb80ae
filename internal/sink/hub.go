package sink

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrUnavailable means nothing is connected to receive a cue. It is a normal
// state and callers drop the message.
var ErrUnavailable = errors.New("sink unavailable")

const (
	clientQueueSize = 32
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageBytes = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	id   int
	conn *websocket.Conn
	send chan string
}

// Hub relays cues to every connected device bridge over /ws.
type Hub struct {
	mu      sync.Mutex
	clients map[int]*client
	next    int
}

func NewHub() *Hub {
	return &Hub{clients: map[int]*client{}}
}

// Send queues message for every connected client without blocking. Clients
// whose queue is full miss the cue.
func (h *Hub) Send(message string) error {
	return h.broadcast(message, -1)
}

func (h *Hub) broadcast(message string, except int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for id, c := range h.clients {
		if id == except {
			continue
		}
		select {
		case c.send <- message:
			delivered++
		default:
			slog.Warn("sink: client queue full, dropping cue", "client_id", id)
		}
	}
	if delivered == 0 {
		return ErrUnavailable
	}
	return nil
}

// Clients returns the number of connected relay clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &client{id: h.next, conn: conn, send: make(chan string, clientQueueSize)}
	h.next++
	h.clients[c.id] = c
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		close(c.send)
		delete(h.clients, c.id)
	}
}

// ServeHTTP upgrades the request and keeps the client attached until it disconnects.
// Text received from a client is relayed to all other clients.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("sink: websocket upgrade failed", "error", err)
		return
	}

	c := h.register(conn)
	slog.Info("sink: client connected", "client_id", c.id, "remote_addr", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)

	slog.Info("sink: client disconnected", "client_id", c.id)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if err := h.broadcast(string(message), c.id); err != nil {
			slog.Debug("sink: relay dropped", "client_id", c.id, "error", err)
		}
	}
}

func (h *Hub) writePump(c *client) {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
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
