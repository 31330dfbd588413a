// Package api pkg/api/ws.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tonertrack/tonertrack/pkg/poller"
)

const (
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 32
)

// Hub fans poll events out to connected dashboard clients. It
// implements poller.EventPublisher; Publish never blocks, slow clients
// just miss events.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			// The API is already open cross-origin; the socket matches.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[*wsClient]struct{}{},
	}
}

// Publish implements poller.EventPublisher.
func (h *Hub) Publish(event poller.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error encoding event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client is not keeping up; drop the event for it.
		}
	}
}

// ClientCount reports how many sockets are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *wsClient) {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
			return
		}

		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readLoop drains the socket so close frames are processed; the
// dashboard never sends anything meaningful.
func (h *Hub) readLoop(c *wsClient) {
	defer h.drop(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	close(c.send)

	if err := c.conn.Close(); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		log.Printf("Error closing websocket: %v", err)
	}
}
