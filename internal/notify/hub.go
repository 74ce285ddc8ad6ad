// Package notify pushes order updates to the owning user's open websocket
// connections and stock changes to every connection.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

// OrderUpdate is the message written to subscribers.
type OrderUpdate struct {
	Type  string        `json:"type"`
	Order *domain.Order `json:"order"`
}

// InventoryUpdate is broadcast to all subscribers when a product's stock changes.
type InventoryUpdate struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// message goes to userID's connections, or to every connection when all is set.
type message struct {
	userID  string
	all     bool
	payload []byte
}

type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[string]map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan message
	done       chan struct{}
	log        *slog.Logger
}

func NewHub(allowedOrigins []string, log *slog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan message, 256),
		done:       make(chan struct{}),
		log:        log.With("component", "ws-hub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Run owns the client registry until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			if h.clients[c.userID] == nil {
				h.clients[c.userID] = make(map[*client]struct{})
			}
			h.clients[c.userID][c] = struct{}{}
		case c := <-h.unregister:
			h.remove(c)
		case m := <-h.broadcast:
			if !m.all {
				h.deliver(h.clients[m.userID], m.payload)
				continue
			}
			for _, set := range h.clients {
				h.deliver(set, m.payload)
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = map[string]map[*client]struct{}{}
			return
		}
	}
}

func (h *Hub) deliver(set map[*client]struct{}, payload []byte) {
	for c := range set {
		select {
		case c.send <- payload:
		default:
			// slow consumer
			h.remove(c)
		}
	}
}

func (h *Hub) remove(c *client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

// OrderUpdated queues the order for its owner's connections. It never blocks the caller.
func (h *Hub) OrderUpdated(order *domain.Order) {
	payload, err := json.Marshal(OrderUpdate{Type: "order_update", Order: order})
	if err != nil {
		h.log.Error("failed to encode order update", "order_id", order.OrderID, "error", err)
		return
	}
	select {
	case h.broadcast <- message{userID: order.UserID, payload: payload}:
	default:
		h.log.Warn("order update dropped, hub is busy", "order_id", order.OrderID)
	}
}

// InventoryUpdated queues a stock level for every open connection. It never blocks the caller.
func (h *Hub) InventoryUpdated(level domain.StockLevel) {
	payload, err := json.Marshal(InventoryUpdate{Type: "inventory_update", ProductID: level.ProductID, Stock: level.Stock})
	if err != nil {
		h.log.Error("failed to encode inventory update", "product_id", level.ProductID, "error", err)
		return
	}
	select {
	case h.broadcast <- message{all: true, payload: payload}:
	default:
		h.log.Warn("inventory update dropped, hub is busy", "product_id", level.ProductID)
	}
}

// Serve upgrades the request and subscribes the connection to userID's orders.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
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

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
