package hub

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/agenthub/pkg/metrics"
	"github.com/cuemby/agenthub/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Role distinguishes the two classes of connection
type Role string

const (
	RoleProducer Role = "producer"
	RoleConsumer Role = "consumer"
)

// conn is one WebSocket link, producer or consumer
type conn struct {
	id     string
	role   Role
	ws     *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger zerolog.Logger

	closeOnce sync.Once
	closed    atomic.Bool

	mu         sync.Mutex
	global     bool
	sessions   map[string]struct{}
	instanceID string
}

func newConn(h *Hub, ws *websocket.Conn, id string, role Role) *conn {
	return &conn{
		id:       id,
		role:     role,
		ws:       ws,
		send:     make(chan []byte, h.cfg.SendBuffer),
		hub:      h,
		logger:   h.logger.With().Str("conn_id", id).Str("role", string(role)).Logger(),
		sessions: make(map[string]struct{}),
	}
}

// SafeSend queues data without blocking. It reports false when the
// connection is closed or its buffer is full; the message is then dropped
// for this connection only.
func (c *conn) SafeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
		if !sent {
			metrics.MessagesDroppedTotal.WithLabelValues(string(c.role)).Inc()
		}
	}()

	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendMessage encodes and queues one message
func (c *conn) sendMessage(msgType string, payload any) bool {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("type", msgType).Msg("Failed to encode message")
		return false
	}
	return c.SafeSend(data)
}

func (c *conn) sendError(code, message string) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{Message: message, Code: code})
}

// Close closes the send queue exactly once; the write pump then sends a
// close frame and shuts the socket
func (c *conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

func (c *conn) isGlobal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global
}

func (c *conn) setGlobal(v bool) {
	c.mu.Lock()
	c.global = v
	c.mu.Unlock()
}

func (c *conn) watches(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[sessionID]
	return ok
}

func (c *conn) watchSession(sessionID string, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v {
		c.sessions[sessionID] = struct{}{}
	} else {
		delete(c.sessions, sessionID)
	}
}

func (c *conn) getInstanceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instanceID
}

func (c *conn) setInstanceID(id string) {
	c.mu.Lock()
	c.instanceID = id
	c.mu.Unlock()
}

// readPump reads frames until the socket fails, handing each to handle.
// The connection is unregistered when it returns.
func (c *conn) readPump(handle func([]byte)) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Read pump crashed")
		}
		c.hub.unregister(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(c.hub.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		handle(data)
	}
}

// writePump drains the send queue to the socket and keeps it alive with pings
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
