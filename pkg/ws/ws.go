// Package ws relays dispatcher events to WebSocket clients using
// gorilla/websocket.
//
// A Relay is a hub of connected clients plus a tap on an event.Dispatcher:
// every event published through the dispatcher's sync driver is forwarded
// to every subscribed client as a JSON frame.
//
//	relay := ws.NewRelay()
//	go relay.Run()
//	relay.AttachTo(dispatcher)
//
//	// In your route file:
//	router.Get("/events/stream", "events.stream", func(w http.ResponseWriter, r *http.Request) {
//	    ws.Upgrade(w, r, relay)
//	})
//
// Clients may narrow what they receive by sending a subscription message:
//
//	{"subscribe": ["user.created", "order.shipped"]}
//
// With no subscription, every event is forwarded.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lalaz-foundation/forge/pkg/event"
	"github.com/lalaz-foundation/forge/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // subscription messages only; frames flow the other way
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins by default — restrict in production.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SetCheckOrigin replaces the default (allow-all) origin checker.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}

// Frame is one relayed event as delivered to a client.
type Frame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	At      string `json:"at"`
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is a single connected WebSocket subscriber.
type Client struct {
	relay  *Relay
	conn   *websocket.Conn
	send   chan []byte
	events map[string]bool // nil means "all events"
}

// wants reports whether this client subscribed to name.
func (c *Client) wants(name string) bool {
	return c.events == nil || c.events[name]
}

// subscription is the only inbound message shape a client may send.
type subscription struct {
	Subscribe []string `json:"subscribe"`
}

// readPump consumes subscription messages until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.relay.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("ws: unexpected close", "error", err)
			}
			break
		}

		var sub subscription
		if json.Unmarshal(msg, &sub) != nil {
			continue
		}
		c.relay.resubscribe <- resubscription{client: c, events: sub.Subscribe}
	}
}

// writePump flushes relayed frames to the connection.
func (c *Client) writePump() {
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

// ─── Relay ────────────────────────────────────────────────────────────────────

type resubscription struct {
	client *Client
	events []string
}

// Relay maintains the active subscribers and fans relayed frames out to
// them. A client whose send buffer is full is disconnected (its send channel
// is closed and it is removed) — a slow viewer never backpressures the
// dispatcher.
type Relay struct {
	clients     map[*Client]bool
	frames      chan Frame
	register    chan *Client
	unregister  chan *Client
	resubscribe chan resubscription
}

// NewRelay creates a Relay. Call relay.Run() in a goroutine at startup.
func NewRelay() *Relay {
	return &Relay{
		clients:     make(map[*Client]bool),
		frames:      make(chan Frame, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		resubscribe: make(chan resubscription),
	}
}

// AttachTo taps dispatcher so every synchronous publication is forwarded to
// the relay's subscribers.
func (h *Relay) AttachTo(d *event.Dispatcher) {
	d.SetObserver(func(name string, payload any) {
		h.Forward(name, payload)
	})
}

// Forward enqueues one event frame for broadcast. It never blocks: when the
// relay's buffer is full the frame is dropped.
func (h *Relay) Forward(name string, payload any) {
	select {
	case h.frames <- Frame{Event: name, Payload: payload, At: time.Now().Format(time.RFC3339)}:
	default:
	}
}

// Run starts the relay event loop. Must be run in its own goroutine.
func (h *Relay) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			logger.Info("ws: relay client connected", "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				logger.Info("ws: relay client disconnected", "total", len(h.clients))
			}

		case sub := <-h.resubscribe:
			if !h.clients[sub.client] {
				continue
			}
			if len(sub.events) == 0 {
				sub.client.events = nil
				continue
			}
			filter := make(map[string]bool, len(sub.events))
			for _, name := range sub.events {
				filter[name] = true
			}
			sub.client.events = filter

		case frame := <-h.frames:
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			for client := range h.clients {
				if !client.wants(frame.Event) {
					continue
				}
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// ClientCount returns the number of currently connected subscribers.
func (h *Relay) ClientCount() int { return len(h.clients) }

// ─── Upgrade ─────────────────────────────────────────────────────────────────

// Upgrade upgrades an HTTP connection to a WebSocket and registers the
// resulting client with relay. A nil relay rejects the request instead of
// upgrading.
func Upgrade(w http.ResponseWriter, r *http.Request, relay *Relay) {
	if relay == nil {
		http.Error(w, "event relay not initialised", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("ws: upgrade failed", "error", err)
		return
	}
	client := &Client{relay: relay, conn: conn, send: make(chan []byte, 256)}
	relay.register <- client
	go client.writePump()
	go client.readPump()
}
