package events

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
	pingPeriod = 54 * time.Second

	clientBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Session auth has already run by the time the upgrade happens, so
	// cross-origin dashboards are allowed through.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks websocket subscribers per tenant and broadcasts envelopes to
// them. A subscriber that cannot keep up is disconnected rather than allowed
// to back the hub up.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	companyID string
	conn      *websocket.Conn
	send      chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Serve upgrades the request and streams the tenant's events until the peer
// goes away. The caller has already authenticated the session and resolved
// companyID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, companyID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[EVENTS] ws upgrade failed: %v", err)
		return
	}
	c := &client{companyID: companyID, conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[EVENTS] ws subscriber joined company %s (%d connected)", companyID, n)

	go c.writePump()
	c.readPump(h)
}

// Broadcast fans an envelope out to the tenant's subscribers without
// blocking. Clients with a full buffer are dropped.
func (h *Hub) Broadcast(env Envelope) {
	msg, err := json.Marshal(env)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.companyID != env.CompanyID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Subscribers reports how many connections a tenant has open.
func (h *Hub) Subscribers(companyID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		if c.companyID == companyID {
			n++
		}
	}
	return n
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump discards inbound frames; the socket is push-only. Reading is still
// required to notice closes and answer pings.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.drop(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
