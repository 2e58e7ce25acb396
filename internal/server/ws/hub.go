// Package ws relays the signal-bus event feed to WebSocket clients. Every
// connection starts subscribed to all event channels and can narrow its view
// with subscribe/unsubscribe frames.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openhooks/matchbook/internal/domain"
	"github.com/openhooks/matchbook/internal/events"
)

const (
	writeWait = 10 * time.Second

	// pongWait bounds how long a silent client stays connected; pings go out
	// at pingPeriod, which must be shorter.
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxFrameSize   = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is read-only event data; origin checks add nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub bridges the signal bus to a set of WebSocket clients. One subscriber
// goroutine per bus channel feeds the fan-out; clients come and go under the
// mutex.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger
	mode   string

	mu      sync.RWMutex
	clients map[*client]struct{}

	startedAt time.Time
}

// NewHub creates a hub over the given signal bus. The mode string is echoed
// in the status frame sent on connect.
func NewHub(bus domain.SignalBus, logger *slog.Logger, mode string) *Hub {
	if mode == "" {
		mode = "unknown"
	}
	return &Hub{
		bus:       bus,
		logger:    logger.With(slog.String("component", "ws")),
		mode:      mode,
		clients:   make(map[*client]struct{}),
		startedAt: time.Now().UTC(),
	}
}

// Run subscribes to every event channel and pumps bus messages to connected
// clients until the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range events.Channels() {
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			h.pumpChannel(ctx, channel)
		}(ch)
	}
	wg.Wait()

	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	return ctx.Err()
}

// pumpChannel forwards one bus channel to all clients subscribed to it.
func (h *Hub) pumpChannel(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.ErrorContext(ctx, "subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.InfoContext(ctx, "subscribed", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "subscription closed",
					slog.String("channel", channel),
				)
				return
			}
			h.send(channel, data)
		}
	}
}

// send delivers one bus message to every client listening on the channel.
// A client whose buffer is full loses the message rather than stalling the
// feed for everyone else.
func (h *Hub) send(channel string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.listensTo(channel) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping frame for slow client",
				slog.String("channel", channel),
			)
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", slog.Int("total_clients", n))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", slog.Int("total_clients", n))
}

// HandleWS upgrades the request and starts the client's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(events.Channels())),
	}
	for _, ch := range events.Channels() {
		c.subs[ch] = true
	}

	h.add(c)
	c.sendStatus()

	go c.writePump()
	go c.readPump()
}

// client is one WebSocket connection and its channel subscriptions.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg is the only inbound frame the feed understands, e.g.
// {"action":"subscribe","channels":["ch:match"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

func (c *client) listensTo(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// readPump consumes inbound frames, applying subscription changes and
// refreshing the read deadline on pongs. Any read error ends the connection.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var msg subscribeMsg
		if err := json.Unmarshal(frame, &msg); err != nil {
			continue
		}
		c.applySubscription(msg)
	}
}

func (c *client) applySubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendStatus pushes a status frame on connect so clients see a healthy
// connection before any event arrives.
func (c *client) sendStatus() {
	frame, err := json.Marshal(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"ws_connected":   true,
			"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
			"channels":       events.Channels(),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// writePump drains the send buffer to the wire and keeps the connection
// alive with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
