// Package ws bridges the Redis trade event channel to WebSocket clients
// so operator dashboards can watch negotiations move in real time.
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

	"github.com/openbarter/tradecore/internal/domain"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before the
	// connection is considered dead. pingPeriod must stay below it.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound control frames.
	maxMessageSize = 4096

	// sendBufferSize is the per-client outgoing queue. A client that
	// falls this far behind starts losing events.
	sendBufferSize = 256

	// eventBacklog buffers bus frames between the subscription pump and
	// the fan-out loop.
	eventBacklog = 256

	// resubscribeDelay paces reconnect attempts after the bus drops the
	// subscription.
	resubscribeDelay = 5 * time.Second
)

// upgrader accepts any origin; the route sits behind admin API-key auth
// and the CORS middleware, which gate access before the upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// controlMsg is the JSON frame a client sends to narrow its feed to
// certain trade statuses, e.g. {"action":"subscribe","statuses":
// ["accepted","disputed"]}. Removing every subscribed status restores
// the full feed.
type controlMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Statuses []string `json:"statuses"`
}

// client is one WebSocket connection and its status filter. An empty
// filter admits every event.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	filter map[string]bool
}

// Config carries runtime metadata for the status envelope sent to each
// client on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans trade events from the signal bus out to connected WebSocket
// clients. All client-set mutations go through the Run loop.
type Hub struct {
	bus       domain.SignalBus
	logger    *slog.Logger
	mode      string
	startedAt time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}

	register   chan *client
	unregister chan *client
}

// NewHub creates a hub bridging the signal bus to WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		bus:        bus,
		logger:     logger,
		mode:       mode,
		startedAt:  startedAt,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run owns the client set: registrations, departures, and event fan-out
// all pass through this loop. It blocks until ctx is cancelled, then
// closes every client's send channel so the write loops drain and stop.
func (h *Hub) Run(ctx context.Context) error {
	events := make(chan []byte, eventBacklog)
	go h.pumpBus(ctx, events)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("clients", n))

		case frame := <-events:
			h.fanOut(frame)
		}
	}
}

// pumpBus keeps one subscription to the trade channel alive and funnels
// its frames into out. Lost subscriptions are retried until ctx ends.
func (h *Hub) pumpBus(ctx context.Context, out chan<- []byte) {
	for {
		msgs, err := h.bus.Subscribe(ctx, domain.EventChannel)
		if err != nil {
			h.logger.Error("ws: subscribe failed",
				slog.String("channel", domain.EventChannel),
				slog.String("error", err.Error()),
			)
		} else {
			h.logger.Info("ws: subscribed", slog.String("channel", domain.EventChannel))
			for data := range msgs {
				select {
				case out <- data:
				case <-ctx.Done():
					return
				}
			}
			h.logger.Warn("ws: subscription closed, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

// fanOut delivers one event frame to every client whose filter admits
// its status. Slow clients lose the frame rather than stall the hub.
func (h *Hub) fanOut(frame []byte) {
	var peek struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(frame, &peek); err != nil {
		h.logger.Warn("ws: dropping unparseable event", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(peek.Status) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("ws: dropping event for slow client")
		}
	}
}

// HandleWS upgrades the request and starts the client's pump loops. The
// greeting is queued before registration so the hub can never close the
// send channel mid-greet.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		filter: make(map[string]bool),
	}

	c.greet()
	h.register <- c

	go c.writeLoop()
	go c.readLoop()
}

// greet queues a status envelope so dashboards can mark the feed
// healthy before the first trade event arrives.
func (c *client) greet() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	frame, err := json.Marshal(map[string]any{
		"type": "service_status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"ws_connected":   true,
			"uptime_seconds": uptime,
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

// wants reports whether the client's filter admits the given status.
func (c *client) wants(status string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.filter) == 0 {
		return true
	}
	return c.filter[status]
}

// applyFilter mutates the status filter per a control message.
func (c *client) applyFilter(msg controlMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, s := range msg.Statuses {
			c.filter[s] = true
		}
	case "unsubscribe":
		for _, s := range msg.Statuses {
			delete(c.filter, s)
		}
	}
}

// readLoop consumes inbound frames until the connection dies. The only
// meaningful inbound traffic is filter control messages; anything else
// is ignored.
func (c *client) readLoop() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Warn("ws: connection dropped", slog.String("error", err.Error()))
			}
			return
		}

		var ctl controlMsg
		if err := json.Unmarshal(frame, &ctl); err == nil && ctl.Action != "" {
			c.applyFilter(ctl)
		}
	}
}

// writeLoop sends queued frames and keepalive pings. It owns all writes
// to the connection; gorilla allows at most one concurrent writer.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
