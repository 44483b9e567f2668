// Package events pushes live activity notifications to dashboard clients
// over WebSocket.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/covertlabs/pii-vault/internal/config"
	"github.com/covertlabs/pii-vault/internal/pii"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Client is one connected feed consumer.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan Event
	hub  *Hub
}

// Hub maintains the set of active clients and broadcasts events to them.
// Broadcasting never blocks the caller: slow clients are dropped.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	config     config.EventsConfig
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewHub creates a feed hub.
func NewHub(cfg config.EventsConfig, logger *zap.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		config:     cfg,
		logger:     logger,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Run handles client registration, unregistration, and broadcasting until
// the process exits.
func (h *Hub) Run() {
	h.logger.Info("Starting event feed hub")

	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	count := len(h.clients)
	if h.config.MaxConnections > 0 && count >= h.config.MaxConnections {
		h.mu.Unlock()
		h.logger.Warn("Feed connection refused, at capacity",
			zap.Int("max_connections", h.config.MaxConnections))
		client.conn.Close()
		return
	}
	h.clients[client] = true
	h.mu.Unlock()

	h.logger.Info("Feed client connected",
		zap.String("client_id", client.id),
		zap.Int("active_connections", count+1))

	h.Broadcast(Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now(),
		Data:      ConnectionEvent{Action: "connected", ClientID: client.id},
	})
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	h.logger.Info("Feed client disconnected", zap.String("client_id", client.id))
}

func (h *Hub) fanOut(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- event:
		default:
			// Slow consumer; drop it rather than stall the hub.
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

// Broadcast queues an event for every connected client without blocking.
func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Event feed backlog full, dropping event",
			zap.String("type", string(event.Type)))
	}
}

// PublishDetection implements the vault's event publisher boundary.
func (h *Hub) PublishDetection(sessionID string, stats pii.Stats) {
	h.Broadcast(Event{
		Type:      EventTypeDetection,
		Timestamp: time.Now(),
		Data: DetectionEvent{
			SessionID:     sessionID,
			TotalEntities: stats.TotalEntities,
			UniqueValues:  stats.UniqueValues,
			Stats:         stats,
		},
	})
}

// PublishDecryptAttempt implements the vault's event publisher boundary.
func (h *Hub) PublishDecryptAttempt(sessionID string, allowed, succeeded bool) {
	h.Broadcast(Event{
		Type:      EventTypeDecryptAttempt,
		Timestamp: time.Now(),
		Data: DecryptAttemptEvent{
			SessionID: sessionID,
			Allowed:   allowed,
			Succeeded: succeeded,
		},
	})
}

// ServeWS upgrades an HTTP request to a feed connection and starts the
// client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Feed upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Event, 64),
		hub:  h,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump discards client messages and enforces the pong deadline.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump sends queued events and periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
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
