package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gtfs-reconciler/internal/snapshot"
)

const (
	writeWait = 5 * time.Second
	// snapshots queued per client before it is dropped
	sendBuffer = 4
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type HubMetrics interface {
	WSClientsSet(n int)
}

// client is one websocket connection. Only its writePump writes data frames.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes every stored snapshot to connected websocket clients.
// PublishSnapshot never waits on a connection: each client has a bounded
// queue, and a client whose queue is full is disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	metrics HubMetrics
}

func NewHub(m HubMetrics) *Hub {
	return &Hub{clients: make(map[*client]struct{}), metrics: m}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// PublishSnapshot queues snap for every client.
func (h *Hub) PublishSnapshot(_ context.Context, snap *snapshot.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("ws client %s dropped: send queue full", c.conn.RemoteAddr())
			h.drop(c)
		}
	}
	h.report()
	return nil
}

// serve upgrades the request and queues current ahead of any broadcast.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, current func() *snapshot.Snapshot) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	data, err := json.Marshal(current())
	if err != nil {
		h.mu.Unlock()
		log.Printf("ws snapshot encode error: %v", err)
		conn.Close()
		return
	}
	c.send <- data
	h.clients[c] = struct{}{}
	h.report()
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// writePump drains the client's queue. When the queue is closed the peer
// gets a close frame.
func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("ws client %s dropped: %v", c.conn.RemoteAddr(), err)
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
		time.Now().Add(time.Second))
}

// readPump discards client messages and unregisters the connection once the
// peer goes away.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
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
		h.drop(c)
	}
	h.report()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.drop(c)
	h.report()
	h.mu.Unlock()
}

// drop unregisters c and closes its queue. mu must be held.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// report must be called with mu held.
func (h *Hub) report() {
	if h.metrics != nil {
		h.metrics.WSClientsSet(len(h.clients))
	}
}
