package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hanibalsk/autodev/internal/events"
	"github.com/hanibalsk/autodev/internal/logger"
)

// Client represents one connected WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan events.Event

	mu     sync.Mutex
	closed bool
}

// Hub relays engine events to connected WebSocket clients
type Hub struct {
	bus *events.Bus
	log logger.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// NewHub creates a hub that will broadcast the bus's events once running
func NewHub(bus *events.Bus, log logger.Logger) *Hub {
	return &Hub{
		bus:        bus,
		log:        log,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopCh:     make(chan struct{}),
	}
}

// Run subscribes to the event bus and relays events until Stop is called
func (h *Hub) Run() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	feed, cancel := h.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-h.stopCh:
			h.mu.Lock()
			h.running = false
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()

		case event := <-feed:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- event:
				default:
					// Client buffer full, drop the connection
					go func(c *Client) {
						h.unregister <- c
					}(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop stops the hub and disconnects all clients
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.running {
		close(h.stopCh)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWs upgrades the request and attaches the client to the hub
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan events.Event, 64),
	}

	h.register <- client

	go client.writePump()
	client.readPump()
}

// readPump drains client messages until the connection closes
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
	}()

	for {
		var msg map[string]interface{}
		err := wsjson.Read(context.Background(), c.conn, &msg)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				websocket.CloseStatus(err) != websocket.StatusGoingAway {
				c.hub.log.Debug("websocket read ended", "error", err)
			}
			break
		}
	}
}

// writePump sends events to the connection, pinging to keep it alive
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}

			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

			ctx, cancel := newWriteContext()
			err := wsjson.Write(ctx, c.conn, event)
			cancel()

			if err != nil {
				c.hub.log.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := newWriteContext()
			err := c.conn.Ping(ctx)
			cancel()

			if err != nil {
				return
			}
		}
	}
}

// close closes the client connection once
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.send)
	c.conn.Close(websocket.StatusNormalClosure, "closing")
}

func newWriteContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
