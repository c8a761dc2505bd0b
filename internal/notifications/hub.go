package notifications

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	sendBuffer = 16
)

// Hub fans live notifications out to connected websocket clients, keyed by
// user. A user may hold several connections (phone plus web).
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}

	upgrader websocket.Upgrader
	logger   *log.Logger
}

// client's send channel is never closed; shutdown is signalled through
// done so a concurrent Push can never hit a closed channel.
type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement happens in the CORS layer; tokens gate the
			// upgrade itself.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log.New(log.Writer(), "[WS] ", log.LstdFlags),
	}
}

// ServeWS upgrades an authenticated request and pumps notifications until
// the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("⚠️ Upgrade failed for user %s: %v", userID, err)
		return
	}
	c := &client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.mu.Unlock()

	go c.writePump(h)
	c.readPump(h)
}

// Push delivers a notification to every live connection of its user.
// Slow clients are dropped rather than blocking the caller.
func (h *Hub) Push(n *Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		h.logger.Printf("❌ Failed to marshal notification %s: %v", n.ID, err)
		return
	}

	h.mu.RLock()
	conns := h.clients[n.UserID]
	targets := make([]*client, 0, len(conns))
	for c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		case <-c.done:
			// Already dropped; nothing to deliver to.
		default:
			h.drop(c)
		}
	}
}

// ConnectedUsers reports the number of users with at least one connection.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if conns, ok := h.clients[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	c.conn.Close()
}

func (c *client) readPump(h *Hub) {
	defer h.drop(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Clients never send payloads; reads exist to notice disconnects.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump(h *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
