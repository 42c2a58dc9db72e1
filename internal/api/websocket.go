package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tradegate/internal/domain"
	"tradegate/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client represents a single WebSocket connection managed by a Hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	filter eventFilter
}

// eventFilter selects the events a subscriber receives. Empty fields match
// everything.
type eventFilter struct {
	accountID string
	types     map[domain.EventType]bool
}

func newEventFilter(accountID string, types []string) eventFilter {
	f := eventFilter{accountID: accountID}
	for _, t := range types {
		if t = strings.TrimSpace(t); t == "" {
			continue
		}
		if f.types == nil {
			f.types = make(map[domain.EventType]bool)
		}
		f.types[domain.EventType(t)] = true
	}
	return f
}

func (f eventFilter) match(ev domain.Event) bool {
	if f.accountID != "" && ev.AccountID != f.accountID {
		return false
	}
	return f.types == nil || f.types[ev.Type]
}

// Hub manages a set of WebSocket clients and broadcasts dispatcher events to
// the ones whose filter matches.
type Hub struct {
	events     *events.Dispatcher
	log        *slog.Logger
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates a Hub fed by disp.
func NewHub(disp *events.Dispatcher, log *slog.Logger) *Hub {
	return &Hub{
		events:     disp,
		log:        log.With("component", "ws"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the Hub's event loop. It returns when ctx is cancelled, closing
// every client.
func (h *Hub) Run(ctx context.Context) error {
	subID, ch := h.events.Subscribe(sendBuffer)
	defer h.events.Unsubscribe(subID)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return nil
		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("client connected", "clients", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("encoding event", "error", err)
				continue
			}
			for client := range h.clients {
				if !client.filter.match(ev) {
					continue
				}
				select {
				case client.send <- msg:
				default:
					h.log.Warn("dropping slow client")
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// ServeWS upgrades the connection and registers the client. The optional
// "account" and "types" (comma separated) query parameters filter events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var types []string
	if t := q.Get("types"); t != "" {
		types = strings.Split(t, ",")
	}
	filter := newEventFilter(q.Get("account"), types)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), filter: filter}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// readPump discards inbound messages and detects the peer going away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read", "error", err)
			}
			return
		}
	}
}

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
				c.conn.WriteMessage(websocket.CloseMessage, nil)
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
