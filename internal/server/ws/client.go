package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// pingPeriod must stay below pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256
	statusTimeout  = 2 * time.Second
)

// controlMsg is what clients send to adjust their stream:
//
//	{"action":"subscribe","channels":["opportunities"]}
//	{"action":"unsubscribe","channels":["opportunities"]}
//	{"action":"filter","min_confidence":"HIGH"}
//	{"action":"status"}
type controlMsg struct {
	Action        string   `json:"action"`
	Channels      []string `json:"channels"`
	MinConfidence string   `json:"min_confidence"`
}

// ackMsg confirms a control message with the client's resulting state.
type ackMsg struct {
	Type          string   `json:"type"`
	Channels      []string `json:"channels"`
	MinConfidence string   `json:"min_confidence"`
	Error         string   `json:"error,omitempty"`
}

// client is one WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	mu      sync.RWMutex
	subs    map[string]bool
	minConf domain.ConfidenceLevel
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		subs:    make(map[string]bool, len(h.channels)),
		minConf: domain.ConfidenceLow,
	}
	for _, ch := range h.channels {
		c.subs[ch] = true
	}
	return c
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var msg controlMsg
		if json.Unmarshal(message, &msg) != nil || msg.Action == "" {
			continue
		}
		c.handleControl(msg)
	}
}

func (c *client) handleControl(msg controlMsg) {
	if msg.Action == "status" {
		ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
		defer cancel()
		c.sendStatus(ctx)
		return
	}

	var errMsg string
	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	case "filter":
		if lvl, err := domain.ParseConfidence(msg.MinConfidence); err != nil {
			errMsg = err.Error()
		} else {
			c.minConf = lvl
		}
	default:
		errMsg = "unknown action " + msg.Action
	}
	ack := ackMsg{Type: "ack", Channels: c.subscriptions(), MinConfidence: c.minConf.String(), Error: errMsg}
	c.mu.Unlock()

	c.enqueueJSON(ack)
}

// subscriptions lists the channel set, sorted. Callers hold mu.
func (c *client) subscriptions() []string {
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// sendStatus lets dashboards mark the connection healthy before the first
// cycle event arrives.
func (c *client) sendStatus(ctx context.Context) {
	c.enqueueJSON(map[string]any{
		"type": "scanner_status",
		"data": c.hub.status(ctx),
	})
}

func (c *client) enqueueJSON(v any) {
	if msg, err := json.Marshal(v); err == nil {
		c.enqueue(msg)
	}
}

// enqueue queues msg without blocking. It reports false when the buffer is
// full or the client is already closed.
func (c *client) enqueue(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend closes the send queue once; writePump then sends a close frame.
func (c *client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) minConfidence() domain.ConfidenceLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.minConf
}

// isSubscribed reports whether the client wants channel. A trailing "*" in
// a subscription matches any suffix.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// writePump sends queued events as text frames plus periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

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
