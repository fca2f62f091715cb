// Package ws pushes dashboard notifications to browser clients over
// websockets.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/trade-engine/log-dashboard/internal/domain"
)

const (
	MessageTypeNotification = "notification"

	defaultPingInterval = 30 * time.Second
	defaultHistoryLimit = 20
)

// Message is the envelope written to clients.
type Message struct {
	Type         string               `json:"type"`
	Notification *domain.Notification `json:"notification,omitempty"`
}

type HubOption func(*Hub)

// WithPingInterval sets how often idle clients are pinged.
func WithPingInterval(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithHistoryLimit sets how many recent notifications new clients receive on
// connect. Zero disables replay.
func WithHistoryLimit(n int) HubOption {
	return func(h *Hub) {
		if n >= 0 {
			h.historyLimit = n
		}
	}
}

// Hub tracks connected clients and broadcasts notifications to them. It
// satisfies state.Notifier.
type Hub struct {
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	historyLimit int

	mu          sync.RWMutex
	connections map[string]*Connection
	history     [][]byte
	closed      bool
}

func NewHub(logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		pingInterval: defaultPingInterval,
		historyLimit: defaultHistoryLimit,
		connections:  make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and blocks until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade websocket", zap.Error(err))
		return
	}

	c := newConnection(uuid.NewString(), conn, h.logger)
	if !h.register(c) {
		_ = conn.Close()
		return
	}

	go c.writeLoop(h.pingInterval)
	c.readLoop()

	h.unregister(c)
	c.close()
}

func (h *Hub) register(c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.connections[c.ID] = c
	for _, msg := range h.history {
		c.enqueue(msg)
	}
	h.logger.Info("Notification client connected",
		zap.String("conn_id", c.ID),
		zap.Int("clients", len(h.connections)))
	return true
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c.ID]; !ok {
		return
	}
	delete(h.connections, c.ID)
	h.logger.Info("Notification client disconnected",
		zap.String("conn_id", c.ID),
		zap.Int("clients", len(h.connections)))
}

// Notify broadcasts n to every connected client without blocking.
func (h *Hub) Notify(n domain.Notification) {
	msg, err := json.Marshal(Message{Type: MessageTypeNotification, Notification: &n})
	if err != nil {
		h.logger.Error("Failed to encode notification", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	if h.historyLimit > 0 {
		h.history = append(h.history, msg)
		if len(h.history) > h.historyLimit {
			h.history = h.history[len(h.history)-h.historyLimit:]
		}
	}

	for _, c := range h.connections {
		c.enqueue(msg)
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close disconnects every client; later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	connections := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		connections = append(connections, c)
	}
	h.connections = make(map[string]*Connection)
	h.mu.Unlock()

	for _, c := range connections {
		c.close()
	}
	h.logger.Info("Notification hub stopped", zap.Int("clients", len(connections)))
}
