// Package stream broadcasts finished backtest runs to WebSocket clients.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"factor-lab/internal/domain"
	"factor-lab/internal/observability"
)

// EventBacktestCompleted is the type of the event sent after a run is stored.
const EventBacktestCompleted = "backtest.completed"

// Event is the JSON message sent to clients.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Strategy  string    `json:"strategy"`
	CreatedAt time.Time `json:"created_at"`
	Offsets   int       `json:"offsets"`
	// MeanRatio is null when not finite.
	MeanRatio *float64 `json:"mean_annual_return_drawdown_ratio"`
}

// NewCompletedEvent builds the event for a stored report.
func NewCompletedEvent(report *domain.BacktestReport) Event {
	offsets := 0
	for _, row := range report.Rows {
		if !row.IsPooled() {
			offsets++
		}
	}
	ev := Event{
		Type:      EventBacktestCompleted,
		RunID:     report.RunID,
		Strategy:  report.StrategyName,
		CreatedAt: report.CreatedAt.UTC(),
		Offsets:   offsets,
	}
	if r := report.MeanAnnualReturnDrawdownRatio; !math.IsNaN(r) && !math.IsInf(r, 0) {
		ev.MeanRatio = &r
	}
	return ev
}

// HubConfig configures client connection behavior.
type HubConfig struct {
	// SendBuffer is the number of messages queued per client before it is dropped.
	SendBuffer int
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is how long a client may stay silent (pongs included).
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:   16,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages a set of WebSocket clients and broadcasts messages to all
// connected clients.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	metrics  *observability.Metrics
	logger   *log.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a new Hub. Nil config uses defaults; nil metrics and logger
// disable them.
func NewHub(config *HubConfig, metrics *observability.Metrics, logger *log.Logger) *Hub {
	cfg := DefaultHubConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: metrics,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.config.SendBuffer)}
	if !h.register(c) {
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// Publish sends ev to every connected client. Clients whose queue is full
// are disconnected.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.removeLocked(c)
			if h.metrics != nil {
				h.metrics.StreamMessagesDropped.Inc()
			}
		}
	}
	return nil
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.updateGauge()
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked must be called with h.mu held.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.updateGauge()
}

func (h *Hub) updateGauge() {
	if h.metrics != nil {
		h.metrics.StreamClients.Set(float64(len(h.clients)))
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.unregister(c)
				return
			}
			if h.metrics != nil {
				h.metrics.StreamMessagesSent.Inc()
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Printf("read error: %v", err)
			}
			return
		}
	}
}
