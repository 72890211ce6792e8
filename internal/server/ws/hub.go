// Package ws pushes scan cycle events to dashboard clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS and auth middleware in front of /ws.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ReportSource returns the most recent scan report.
type ReportSource interface {
	Latest(ctx context.Context) (domain.ScanReport, error)
}

// Config captures what the hub subscribes to and the runtime metadata sent
// to clients on connect.
type Config struct {
	Channels  []string
	Mode      string
	Profile   string
	StartedAt time.Time
	// Reports, when set, adds the latest cycle summary to the status
	// envelope.
	Reports ReportSource
}

// Hub fans scan cycle events out to connected clients. Events arrive either
// from a SignalBus subscription or from Publish when the scanner runs in the
// same process.
type Hub struct {
	bus       domain.SignalBus
	channels  []string
	mode      string
	profile   string
	startedAt time.Time
	logger    *slog.Logger

	broadcast  chan event
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool
	reports ReportSource
}

type event struct {
	channel string
	data    []byte
}

// NewHub creates a hub. bus may be nil, in which case events only arrive
// through Publish.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		bus:        bus,
		channels:   cfg.Channels,
		mode:       mode,
		profile:    cfg.Profile,
		startedAt:  startedAt,
		logger:     logger.With(slog.String("component", "ws_hub")),
		broadcast:  make(chan event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
		reports:    cfg.Reports,
	}
}

// SetReports sets the source of the latest cycle summary sent on connect.
func (h *Hub) SetReports(reports ReportSource) {
	h.mu.Lock()
	h.reports = reports
	h.mu.Unlock()
}

// Publish queues payload for every client subscribed to channel. It lets the
// hub stand in for the bus when no Redis is configured.
func (h *Hub) Publish(ctx context.Context, channel string, payload []byte) error {
	select {
	case h.broadcast <- event{channel: channel, data: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives registration and fan-out until ctx is cancelled, then closes
// every client.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		for _, ch := range h.channels {
			go h.relay(ctx, ch)
		}
	}

	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.closeSend()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				c.closeSend()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case ev := <-h.broadcast:
			h.fanOut(ev)
		}
	}
}

// fanOut delivers ev to subscribed clients. Clients with a confidence filter
// get a trimmed copy of cycle events, encoded once per level.
func (h *Hub) fanOut(ev event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	trimmed := make(map[domain.ConfidenceLevel][]byte)
	for c := range h.clients {
		if !c.isSubscribed(ev.channel) {
			continue
		}
		data := ev.data
		if floor := c.minConfidence(); floor > domain.ConfidenceLow {
			v, ok := trimmed[floor]
			if !ok {
				v = filterCycleEvent(ev.data, floor)
				trimmed[floor] = v
			}
			data = v
		}
		if !c.enqueue(data) {
			h.logger.Warn("ws: dropping event for slow client", slog.String("channel", ev.channel))
		}
	}
}

// filterCycleEvent drops opportunities below floor from a scan cycle event.
// Payloads that are not cycle events pass through untouched.
func filterCycleEvent(data []byte, floor domain.ConfidenceLevel) []byte {
	var ev service.CycleEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.Data.CycleID == "" {
		return data
	}
	kept := ev.Data.Opportunities[:0]
	for _, o := range ev.Data.Opportunities {
		if o.Confidence >= floor {
			kept = append(kept, o)
		}
	}
	ev.Data.Opportunities = kept
	out, err := json.Marshal(ev)
	if err != nil {
		return data
	}
	return out
}

// relay forwards one bus channel into the broadcast loop.
func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: relaying bus channel", slog.String("channel", channel))

	for data := range msgs {
		if err := h.Publish(ctx, channel, data); err != nil {
			return
		}
	}
	if ctx.Err() == nil {
		h.logger.Warn("ws: bus subscription closed", slog.String("channel", channel))
	}
}

// HandleWS upgrades the request, subscribes the client to the hub's
// channels and sends the scanner status.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendStatus(r.Context())

	go c.writePump()
	go c.readPump()
}

// statusPayload is the body of the "scanner_status" envelope.
type statusPayload struct {
	Mode          string    `json:"mode"`
	Profile       string    `json:"profile"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Channels      []string  `json:"channels"`
	LastCycleID   string    `json:"last_cycle_id,omitempty"`
	LastCycleAt   time.Time `json:"last_cycle_at,omitzero"`
	Opportunities int       `json:"opportunities"`
}

func (h *Hub) status(ctx context.Context) statusPayload {
	st := statusPayload{
		Mode:          h.mode,
		Profile:       h.profile,
		UptimeSeconds: max(int64(time.Since(h.startedAt).Seconds()), 0),
		Channels:      h.channels,
	}
	h.mu.RLock()
	reports := h.reports
	h.mu.RUnlock()
	if reports != nil {
		if rep, err := reports.Latest(ctx); err == nil {
			st.LastCycleID = rep.CycleID
			st.LastCycleAt = rep.StartedAt
			st.Opportunities = len(rep.Opportunities)
		}
	}
	return st
}
