// Package livefeed broadcasts EventStream records to connected
// operators over WebSocket — a real-time tail, not a source of truth.
// It registers itself as an eventstream.Callback, so a broadcast that
// fails or blocks can never affect a tool call: the hub drops slow
// clients rather than backing up.
package livefeed

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/opengovern/sentinel/internal/eventstream"
)

// Hub manages the set of connected WebSocket clients and broadcasts
// events to all of them. A single goroutine owns the connections map;
// all mutation happens via channels, so no locks are needed there.
type Hub struct {
	connections  map[*conn]bool
	broadcastCh  chan []byte
	registerCh   chan *conn
	unregisterCh chan *conn
	log          *zap.Logger
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
	mu   sync.Mutex
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewHub creates a Hub and starts its event loop in a background
// goroutine.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		connections:  make(map[*conn]bool),
		broadcastCh:  make(chan []byte, 256),
		registerCh:   make(chan *conn),
		unregisterCh: make(chan *conn),
		log:          log,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.registerCh:
			h.connections[c] = true
			h.log.Debug("livefeed client connected", zap.Int("total", len(h.connections)))

		case c := <-h.unregisterCh:
			if _, ok := h.connections[c]; ok {
				delete(h.connections, c)
				close(c.send)
				h.log.Debug("livefeed client disconnected", zap.Int("total", len(h.connections)))
			}

		case msg := <-h.broadcastCh:
			for c := range h.connections {
				select {
				case c.send <- msg:
				default:
					delete(h.connections, c)
					close(c.send)
				}
			}
		}
	}
}

// Broadcast sends msg to every connected client. Non-blocking — if the
// hub's internal buffer is full the message is dropped, matching
// EventStream's own "losing a rotation is preferable to blocking" stance
// on this side channel.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcastCh <- msg:
	default:
	}
}

// Callback returns an eventstream.Callback that broadcasts every
// passing event to connected operators, for registration via
// Stream.OnEvent.
func (h *Hub) Callback() eventstream.Callback {
	return func(ev eventstream.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			h.log.Warn("livefeed: marshaling event failed", zap.Error(err))
			return
		}
		h.Broadcast(data)
	}
}

// ServeHTTP upgrades the connection to WebSocket and registers it with
// the hub. The feed is server-to-client only; inbound messages are read
// and discarded, purely to detect disconnection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("livefeed: websocket upgrade failed", zap.Error(err))
		return
	}

	c := &conn{ws: ws, send: make(chan []byte, 64)}
	h.registerCh <- c

	go c.writePump()
	go c.readPump(h)
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		c.mu.Lock()
		err := c.ws.WriteMessage(websocket.TextMessage, msg)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *conn) readPump(h *Hub) {
	defer func() {
		h.unregisterCh <- c
		c.ws.Close()
	}()
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
