// Package hub fans poller events out to websocket clients and turns their commands into
// SetSymbol and Refresh calls.
package hub

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quotewatch/internal/logger"
	"quotewatch/internal/poller"
	"quotewatch/internal/quote"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxMessageSize = 4 << 10
	sendBuffer     = 32
)

// Tracker is the controller surface the hub drives.
type Tracker interface {
	SetSymbol(symbol string) error
	Refresh() bool
	Snapshot() poller.Snapshot
}

// Command is an inbound client message.
type Command struct {
	Action string `json:"action"`
	Symbol string `json:"symbol,omitempty"`
}

const (
	ActionSetSymbol = "set_symbol"
	ActionRefresh   = "refresh"
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub implements poller.Listener.
type Hub struct {
	log      *logger.Entry
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	tracker Tracker
}

func New(l *logger.Log) *Hub {
	return &Hub{
		log:     l.WithComponent("hub"),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Attach sets the tracker that receives client commands. The controller is built with the
// hub as its listener, so this happens after construction.
func (h *Hub) Attach(t Tracker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tracker = t
}

func (h *Hub) OnQuoteUpdated(q quote.Quote) {
	h.Broadcast(Event{Type: EventQuote, Symbol: q.Symbol, Quote: &q, At: time.Now().UTC()})
}

func (h *Hub) OnError(kind quote.ErrorKind, message string) {
	h.Broadcast(Event{Type: EventError, Error: &ErrorBody{Kind: kind, Message: message}, At: time.Now().UTC()})
}

func (h *Hub) OnLoadingChanged(loading bool) {
	h.Broadcast(Event{Type: EventLoading, Loading: &loading, At: time.Now().UTC()})
}

// Broadcast sends ev to every client. Clients whose buffer is full miss the event.
func (h *Hub) Broadcast(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).Error("encoding event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.log.WithField("client", c.id).Warn("client buffer full; dropping event")
		}
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client. The first message is a snapshot
// of the current state.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	tracker := h.tracker
	h.mu.Unlock()
	h.log.WithField("client", c.id).Info("client connected")

	if tracker != nil {
		h.sendTo(c, SnapshotEvent(tracker.Snapshot()))
	}

	go h.writePump(c)
	go h.readPump(c)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.log.WithField("client", c.id).Info("client disconnected")
	}
}

func (h *Hub) sendTo(c *client, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			h.sendTo(c, Event{Type: EventError, Error: &ErrorBody{Kind: quote.KindValidation, Message: "invalid command"}, At: time.Now().UTC()})
			continue
		}
		h.sendTo(c, h.handle(cmd))
	}
}

func (h *Hub) handle(cmd Command) Event {
	h.mu.RLock()
	tracker := h.tracker
	h.mu.RUnlock()

	now := time.Now().UTC()
	if tracker == nil {
		return Event{Type: EventError, Error: &ErrorBody{Kind: quote.KindUnknown, Message: "no tracker attached"}, At: now}
	}

	switch strings.ToLower(cmd.Action) {
	case ActionSetSymbol:
		if err := tracker.SetSymbol(cmd.Symbol); err != nil {
			return Event{Type: EventError, Error: &ErrorBody{Kind: quote.KindOf(err), Message: err.Error()}, At: now}
		}
		return Event{Type: EventAck, Symbol: tracker.Snapshot().Symbol, At: now}
	case ActionRefresh:
		started := tracker.Refresh()
		return Event{Type: EventAck, Loading: &started, At: now}
	default:
		return Event{Type: EventError, Error: &ErrorBody{Kind: quote.KindValidation, Message: "unknown action: " + cmd.Action}, At: now}
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
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
