// Package notification delivers pipeline outcomes to connected clients.
//
// A Hub keeps the registry of live client connections. Pipeline runs call
// SendToClient to report to the client that started them and Broadcast to
// tell every viewer that new data is available. Delivery problems never
// surface as errors: an absent or dead client falls back to a callback.
package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/observability/metrics"
)

// ErrConnectionClosed is returned by Send on a connection that has stopped.
var ErrConnectionClosed = errors.NewStd("connection closed")

// Conn is a client connection able to deliver text messages.
// Send blocks until the message has been written or has failed.
type Conn interface {
	Send(ctx context.Context, message string) error
	Close() error
}

// NotFoundFunc is called when a message cannot be delivered to a client.
type NotFoundFunc func(clientID, message string)

type registration struct {
	conn      Conn
	clientID  string
	connected time.Time
}

// Hub is the registry of connected clients. It is safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients []registration // in connect order

	logger  logger.Logger
	metrics *metrics.NotificationMetrics
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithMetrics attaches connection and message metrics.
func WithMetrics(m *metrics.NotificationMetrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates an empty registry.
func NewHub(opts ...Option) *Hub {
	h := &Hub{}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Global().Module("notification")
	}
	return h
}

// Connect registers conn under clientID.
func (h *Hub) Connect(conn Conn, clientID string) {
	h.mu.Lock()
	h.clients = append(h.clients, registration{conn: conn, clientID: clientID, connected: time.Now()})
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ConnectionOpened()
	}
	h.logger.Info("client connected",
		logger.String("client_id", clientID),
		logger.Int("connections", count))
}

// Disconnect removes the conn/clientID pair. Unknown pairs are ignored.
func (h *Hub) Disconnect(conn Conn, clientID string) {
	h.disconnect(conn, clientID, metrics.CloseReasonClosed)
}

func (h *Hub) disconnect(conn Conn, clientID, reason string) {
	h.mu.Lock()
	var (
		removed registration
		found   bool
	)
	for i, r := range h.clients {
		if r.conn == conn && r.clientID == clientID {
			removed, found = r, true
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			break
		}
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !found {
		return
	}
	if h.metrics != nil {
		h.metrics.ConnectionClosed(reason, time.Since(removed.connected))
	}
	h.logger.Info("client disconnected",
		logger.String("client_id", clientID),
		logger.String("reason", reason),
		logger.Int("connections", count))
}

// SendToClient delivers message to the first connection registered under
// clientID and waits for the write to finish. When no such connection exists
// or the write fails, onNotFound is called instead; nothing is returned.
func (h *Hub) SendToClient(ctx context.Context, clientID, message string, onNotFound NotFoundFunc) {
	conn, ok := h.find(clientID)
	if !ok {
		h.logger.Debug("no connection for client", logger.String("client_id", clientID))
		if onNotFound != nil {
			onNotFound(clientID, message)
		}
		return
	}

	start := time.Now()
	err := conn.Send(ctx, message)
	h.recordMessage(metrics.MessageDirect, err, time.Since(start))
	if err != nil {
		h.logger.Warn("send to client failed",
			logger.String("client_id", clientID),
			logger.Error(err))
		if onNotFound != nil {
			onNotFound(clientID, message)
		}
	}
}

// Broadcast sends message to every registered connection. Connections are
// snapshotted first, so clients leaving during the broadcast are skipped
// without affecting the others. Each connection is written concurrently and
// Broadcast returns once every write has finished or failed.
func (h *Hub) Broadcast(ctx context.Context, message string) {
	h.mu.RLock()
	targets := make([]registration, len(h.clients))
	copy(targets, h.clients)
	h.mu.RUnlock()

	var delivered atomic.Int64
	var g errgroup.Group
	for _, r := range targets {
		g.Go(func() error {
			start := time.Now()
			err := r.conn.Send(ctx, message)
			h.recordMessage(metrics.MessageBroadcast, err, time.Since(start))
			if err != nil {
				h.logger.Debug("broadcast skipped client",
					logger.String("client_id", r.clientID),
					logger.Error(err))
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	h.logger.Debug("broadcast sent",
		logger.String("message", message),
		logger.Int64("delivered", delivered.Load()),
		logger.Int("targets", len(targets)))
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every registered connection and empties the registry.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = nil
	h.mu.Unlock()

	for _, r := range clients {
		if err := r.conn.Close(); err != nil {
			h.logger.Debug("close connection", logger.String("client_id", r.clientID), logger.Error(err))
		}
		if h.metrics != nil {
			h.metrics.ConnectionClosed(metrics.CloseReasonClosed, time.Since(r.connected))
		}
	}
}

func (h *Hub) find(clientID string) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, r := range h.clients {
		if r.clientID == clientID {
			return r.conn, true
		}
	}
	return nil, false
}

func (h *Hub) recordMessage(kind string, err error, d time.Duration) {
	if h.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	h.metrics.RecordMessage(kind, status, d)
}
