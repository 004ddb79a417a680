package notification

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shipwatch/shipwatch/internal/logger"
)

// Constants for WebSocket connections
const (
	// Time allowed to write a message to the client
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client
	pongWait = 60 * time.Second

	// Send pings to client with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from client
	maxMessageSize = 512
)

// Upgrader converts API requests into WebSocket connections. Any origin is
// accepted, matching the API's CORS policy.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type outbound struct {
	message string
	result  chan error
}

// WebSocketConn is a client connection. All writes happen on its writePump
// goroutine; Send hands the message over and waits for the write result, so
// it can be called from any goroutine.
type WebSocketConn struct {
	ws       *websocket.Conn
	clientID string
	logger   logger.Logger

	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

// NewWebSocketConn wraps an upgraded connection. onClose, if set, is called
// once when the connection stops for any reason. Start must be called to run
// the pumps.
func NewWebSocketConn(ws *websocket.Conn, clientID string, log logger.Logger, onClose func()) *WebSocketConn {
	if log == nil {
		log = logger.Global().Module("notification")
	}
	return &WebSocketConn{
		ws:       ws,
		clientID: clientID,
		logger:   log.With(logger.String("client_id", clientID)),
		send:     make(chan outbound),
		done:     make(chan struct{}),
		onClose:  onClose,
	}
}

// Start runs the read and write pumps.
func (c *WebSocketConn) Start() {
	go c.writePump()
	go c.readPump()
}

// Send writes message as a text frame and waits for the result.
func (c *WebSocketConn) Send(ctx context.Context, message string) error {
	out := outbound{message: message, result: make(chan error, 1)}

	select {
	case c.send <- out:
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-out.result:
		return err
	case <-c.done:
		// the write may have completed just before the connection stopped
		select {
		case err := <-out.result:
			return err
		default:
			return ErrConnectionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close sends a close frame and stops the connection.
func (c *WebSocketConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.shutdown()
	return nil
}

// Done is closed when the connection has stopped.
func (c *WebSocketConn) Done() <-chan struct{} {
	return c.done
}

func (c *WebSocketConn) shutdown() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
		if c.onClose != nil {
			c.onClose()
		}
		close(c.done)
	})
}

// writePump pumps messages from Send to the WebSocket connection
func (c *WebSocketConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case out := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.TextMessage, []byte(out.message))
			out.result <- err
			if err != nil {
				c.logger.Debug("websocket write failed", logger.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump reads until the client goes away. Inbound text is only logged.
func (c *WebSocketConn) readPump() {
	defer c.shutdown()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", logger.Error(err))
			}
			return
		}
		if msgType == websocket.TextMessage {
			c.logger.Info("message from client", logger.String("message", string(message)))
		}
	}
}

// Attach registers an upgraded connection under clientID, starts its pumps
// and removes it from the hub once it stops.
func (h *Hub) Attach(ws *websocket.Conn, clientID string) *WebSocketConn {
	var conn *WebSocketConn
	conn = NewWebSocketConn(ws, clientID, h.logger, func() { h.Disconnect(conn, clientID) })
	h.Connect(conn, clientID)
	conn.Start()
	return conn
}
