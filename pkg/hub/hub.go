package hub

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/agenthub/pkg/events"
	"github.com/cuemby/agenthub/pkg/log"
	"github.com/cuemby/agenthub/pkg/metrics"
	"github.com/cuemby/agenthub/pkg/protocol"
	"github.com/cuemby/agenthub/pkg/registry"
	"github.com/cuemby/agenthub/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// CloseUnauthorized is the close code sent to consumers that fail
// authentication
const CloseUnauthorized = 4401

const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultSweepInterval   = 5 * time.Second
	DefaultSendBuffer      = 256
	DefaultMaxMessageBytes = 1 << 20
)

// TokenValidator decides whether a consumer token is acceptable
type TokenValidator interface {
	Validate(token string) bool
}

// ValidatorFunc adapts a function to TokenValidator
type ValidatorFunc func(token string) bool

func (f ValidatorFunc) Validate(token string) bool { return f(token) }

// Config holds hub configuration
type Config struct {
	RequestTimeout  time.Duration
	SweepInterval   time.Duration
	SendBuffer      int
	MaxMessageBytes int64

	// Now overrides the clock used for pending request ages
	Now func() time.Time
}

func (c *Config) setDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type pendingEntry struct {
	types.PendingRequest
	consumer *conn
}

// Hub owns every producer and consumer connection. It fans registry changes
// out to subscribed consumers and relays remote-control requests to
// producers.
//
// Lock order is lifecycle, then registry, then hub, then connection. The
// hub never holds its own lock while calling into the registry.
type Hub struct {
	registry  *registry.Registry
	validator TokenValidator
	cfg       Config
	logger    zerolog.Logger
	upgrader  websocket.Upgrader

	// lifecycle serializes producer register and unregister so an old
	// connection going away cannot remove an instance a new one just claimed
	lifecycle sync.Mutex

	mu        sync.Mutex
	consumers map[*conn]struct{}
	producers map[string]*conn
	pending   map[string]*pendingEntry

	unsubscribe []events.Unsubscribe
}

// New creates a hub bound to reg. A nil validator accepts every consumer.
func New(reg *registry.Registry, validator TokenValidator, cfg Config) *Hub {
	cfg.setDefaults()

	h := &Hub{
		registry:  reg,
		validator: validator,
		cfg:       cfg,
		logger:    log.WithComponent("hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		consumers: make(map[*conn]struct{}),
		producers: make(map[string]*conn),
		pending:   make(map[string]*pendingEntry),
	}

	h.unsubscribe = []events.Unsubscribe{
		reg.OnInstanceChange(h.onInstanceChange),
		reg.OnSessionChange(h.onSessionChange),
		reg.OnTranscriptEvent(h.onTranscriptEvent),
	}
	return h
}

// Run drives the pending request sweep until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Sweep loop crashed, restarting")
			if ctx.Err() == nil {
				go h.Run(ctx)
			}
		}
	}()

	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	h.logger.Info().
		Dur("interval", h.cfg.SweepInterval).
		Dur("timeout", h.cfg.RequestTimeout).
		Msg("Pending request sweep started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("Pending request sweep stopped")
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// Close detaches the hub from the registry and drops every connection
func (h *Hub) Close() {
	for _, unsub := range h.unsubscribe {
		unsub()
	}

	h.mu.Lock()
	conns := make([]*conn, 0, len(h.consumers)+len(h.producers))
	for c := range h.consumers {
		conns = append(conns, c)
	}
	for _, c := range h.producers {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Stats reports connection counts
type Stats struct {
	Producers int `json:"producers"`
	Consumers int `json:"consumers"`
	Pending   int `json:"pending"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Producers: len(h.producers),
		Consumers: len(h.consumers),
		Pending:   len(h.pending),
	}
}

// ServeConsumer upgrades a dashboard connection. The token is taken from the
// "token" query parameter or a bearer Authorization header.
func (h *Hub) ServeConsumer(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Consumer upgrade failed")
		return
	}

	if h.validator != nil && !h.validator.Validate(TokenFromRequest(r)) {
		metrics.AuthFailuresTotal.Inc()
		h.logger.Warn().Str("remote", r.RemoteAddr).Msg("Consumer rejected: invalid token")
		rejectUnauthorized(ws)
		return
	}

	c := newConn(h, ws, uuid.NewString(), RoleConsumer)
	h.mu.Lock()
	h.consumers[c] = struct{}{}
	h.mu.Unlock()
	metrics.ConnectionsActive.WithLabelValues(string(RoleConsumer)).Inc()
	c.logger.Info().Str("remote", r.RemoteAddr).Msg("Consumer connected")

	go c.writePump()
	go c.readPump(func(data []byte) { h.handleConsumerMessage(c, data) })
}

// ServeProducer upgrades a producer connection. Only loopback peers are
// accepted.
func (h *Hub) ServeProducer(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		h.logger.Warn().Str("remote", r.RemoteAddr).Msg("Producer rejected: not a loopback address")
		http.Error(w, "producers must connect from loopback", http.StatusForbidden)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Producer upgrade failed")
		return
	}

	c := newConn(h, ws, uuid.NewString(), RoleProducer)
	metrics.ConnectionsActive.WithLabelValues(string(RoleProducer)).Inc()
	c.logger.Info().Msg("Producer connected")

	go c.writePump()
	go c.readPump(func(data []byte) { h.handleProducerMessage(c, data) })
}

// TokenFromRequest extracts a consumer token from a request
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if auth, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(auth)
	}
	return ""
}

func rejectUnauthorized(ws *websocket.Conn) {
	defer ws.Close()

	deadline := time.Now().Add(writeWait)
	_ = ws.SetWriteDeadline(deadline)
	if data, err := protocol.Encode(protocol.TypeError, protocol.ErrorPayload{
		Message: "invalid or missing token",
		Code:    protocol.CodeUnauthorized,
	}); err == nil {
		_ = ws.WriteMessage(websocket.TextMessage, data)
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized"), deadline)
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// unregister forgets a closed connection. A producer that still owns its
// instance takes the instance down with it.
func (h *Hub) unregister(c *conn) {
	var removeInstance string

	if c.role == RoleProducer {
		h.lifecycle.Lock()
		defer h.lifecycle.Unlock()
	}

	h.mu.Lock()
	switch c.role {
	case RoleConsumer:
		if _, ok := h.consumers[c]; ok {
			delete(h.consumers, c)
			metrics.ConnectionsActive.WithLabelValues(string(RoleConsumer)).Dec()
		}
	case RoleProducer:
		if id := c.getInstanceID(); id != "" && h.producers[id] == c {
			delete(h.producers, id)
			removeInstance = id
		}
		metrics.ConnectionsActive.WithLabelValues(string(RoleProducer)).Dec()
	}
	h.mu.Unlock()

	c.Close()

	if removeInstance != "" {
		h.registry.RemoveInstance(removeInstance)
	}
	c.logger.Info().Str("instance_id", removeInstance).Msg("Connection closed")
}

// Registry listeners. These run under the registry lock.

func (h *Hub) consumerList() []*conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*conn, 0, len(h.consumers))
	for c := range h.consumers {
		out = append(out, c)
	}
	return out
}

func (h *Hub) broadcast(msgType string, payload any, want func(*conn) bool) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("Failed to encode broadcast")
		return
	}
	metrics.BroadcastsTotal.WithLabelValues(msgType).Inc()

	for _, c := range h.consumerList() {
		if want(c) {
			c.SafeSend(data)
		}
	}
}

func (h *Hub) onInstanceChange(change registry.InstanceChange) {
	if change.Kind == registry.InstanceRemoved {
		h.broadcast(protocol.TypeInstanceDisconnect,
			protocol.InstanceRef{InstanceID: change.Instance.ID},
			(*conn).isGlobal)
		return
	}
	h.broadcast(protocol.TypeInstanceUpdate, change.Instance, (*conn).isGlobal)
}

func (h *Hub) onSessionChange(s *types.Session) {
	h.broadcast(protocol.TypeSessionUpdate, s, func(c *conn) bool {
		return c.isGlobal() || c.watches(s.ID)
	})
}

func (h *Hub) onTranscriptEvent(ev *types.TranscriptEvent) {
	h.broadcast(protocol.TypeTranscriptEvent, ev, func(c *conn) bool {
		return c.watches(ev.SessionID)
	})
}
