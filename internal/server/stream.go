package server

import (
	"PerpClearing/internal/core"
	"PerpClearing/internal/event"
	"PerpClearing/internal/observability"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 256
)

// StreamHub pushes committed events to WebSocket clients, one WireEvent
// per message. A client may pass ?types=Transfer,PriceUpdated to filter.
// Slow clients lose messages rather than stall the hub.
type StreamHub struct {
	inputChan <-chan core.Output
	upgrader  websocket.Upgrader
	metrics   *observability.Metrics
	logger    zerolog.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn  *websocket.Conn
	send  chan []byte
	types map[string]bool // nil means every type
}

func (c *streamClient) wants(eventType string) bool {
	return c.types == nil || c.types[eventType]
}

func NewStreamHub(inputChan <-chan core.Output, metrics *observability.Metrics, logger zerolog.Logger) *StreamHub {
	return &StreamHub{
		inputChan: inputChan,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: metrics,
		logger:  logger.With().Str("component", "stream").Logger(),
		clients: make(map[*streamClient]struct{}),
	}
}

// Run broadcasts until ctx is cancelled or the input closes, then closes
// every client.
func (h *StreamHub) Run(ctx context.Context) error {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-h.inputChan:
			if !ok {
				return nil
			}
			h.Broadcast(out.Envelope)
		}
	}
}

// Broadcast sends every event of env to the clients that want it.
func (h *StreamHub) Broadcast(env *event.Envelope) {
	wire, err := event.ToWire(env)
	if err != nil {
		h.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("cannot encode envelope")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ev := range wire.Split() {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Warn().Err(err).Str("type", ev.Type).Msg("cannot encode event")
			continue
		}
		for c := range h.clients {
			if !c.wants(ev.Type) {
				continue
			}
			select {
			case c.send <- data:
			default:
				if h.metrics != nil {
					h.metrics.StreamDrops.Inc()
				}
			}
		}
	}
}

func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter map[string]bool
	if s := r.URL.Query().Get("types"); s != "" {
		filter = make(map[string]bool)
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter[t] = true
			}
		}
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &streamClient{conn: conn, send: make(chan []byte, sendBufferSize), types: filter}
	if !h.register(c) {
		conn.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

func (h *StreamHub) register(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.StreamClients.Inc()
	}
	return true
}

func (h *StreamHub) unregister(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	if h.metrics != nil {
		h.metrics.StreamClients.Dec()
	}
}

func (h *StreamHub) shutdown() {
	h.mu.Lock()
	clients := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.closed = true
	h.mu.Unlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

// Clients returns the number of connected clients.
func (h *StreamHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump only handles control frames; client messages are ignored.
func (h *StreamHub) readPump(c *streamClient) {
	defer h.unregister(c)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
	}
}

func (h *StreamHub) writePump(c *streamClient) {
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
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
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
