// Package monitor is a read-only operational dashboard: a
// gorilla/websocket hub that broadcasts structured lifecycle events
// (client connected/disconnected, session BYE issued, session kicked,
// registry size) to any number of subscribers. It is deliberately
// one-directional: nothing a dashboard subscriber sends is ever
// interpreted, so observability can never feed back into RTSP session
// state.
package monitor

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType enumerates the kinds of lifecycle event the monitor
// broadcasts.
type EventType string

const (
	EventClientConnected    EventType = "client_connected"
	EventClientDisconnected EventType = "client_disconnected"
	EventSessionBye         EventType = "session_bye"
	EventSessionKicked      EventType = "session_kicked"
	EventRegistrySize       EventType = "registry_size"
)

// Event is one broadcast message. Fields unused by a given EventType
// are left zero.
type Event struct {
	Type         EventType `json:"type"`
	Timestamp    int64     `json:"timestamp"`
	ClientID     string    `json:"clientId,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	RegistrySize int       `json:"registrySize,omitempty"`
}

// NewEvent stamps an Event with the current time.
func NewEvent(t EventType) Event {
	return Event{Type: t, Timestamp: time.Now().UnixMilli()}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans Events out to every connected dashboard subscriber.
type Hub struct {
	clients    map[*Client]bool
	clientsMu  sync.Mutex
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	logger     *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub builds a Hub. Call Run in its own goroutine before serving
// any connections.
func NewHub(logger *log.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client, 32),
		unregister: make(chan *Client, 32),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes register/unregister/broadcast until Shutdown is
// called.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c] = true
			h.clientsMu.Unlock()
		case c := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.clientsMu.Unlock()
		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("monitor: marshalling event: %v", err)
		}
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Subscriber too slow; drop rather than block the whole hub.
		}
	}
}

// Publish enqueues ev for broadcast. Non-blocking: if the broadcast
// queue is saturated, the event is dropped.
func (h *Hub) Publish(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		if h.logger != nil {
			h.logger.Printf("monitor: broadcast queue full, dropping %s event", ev.Type)
		}
	}
}

// SubscriberCount returns the number of connected dashboard clients.
func (h *Hub) SubscriberCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

// Shutdown stops the hub and closes every subscriber connection.
func (h *Hub) Shutdown() {
	h.cancel()
	h.clientsMu.Lock()
	for c := range h.clients {
		if c.conn != nil {
			c.conn.Close()
		}
	}
	h.clientsMu.Unlock()
	h.wg.Wait()
}

// Client is one dashboard subscriber's websocket connection.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *log.Logger
}

// ServeWS upgrades r to a websocket and registers the resulting Client
// with hub. Intended to be mounted as an http.HandlerFunc on an
// operator-only endpoint (e.g. /monitor/ws).
func ServeWS(hub *Hub, logger *log.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if logger != nil {
			logger.Printf("monitor: upgrade error: %v", err)
		}
		return
	}

	c := &Client{conn: conn, send: make(chan []byte, clientSendSize), hub: hub, logger: logger}
	hub.register <- c
	go c.run()
}

// run both discards anything the subscriber sends (read-only surface)
// and pumps outbound events plus keepalive pings.
func (c *Client) run() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go c.discardInbound()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// discardInbound reads and drops every frame the subscriber sends,
// existing only to detect the peer closing the connection.
func (c *Client) discardInbound() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
