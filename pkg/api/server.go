package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/agenthub/pkg/hub"
	"github.com/cuemby/agenthub/pkg/log"
	"github.com/cuemby/agenthub/pkg/metrics"
	"github.com/cuemby/agenthub/pkg/registry"
	"github.com/rs/zerolog"
)

// Server exposes the hub's HTTP surface: the two WebSocket endpoints, the
// read-only REST query API, health probes and Prometheus metrics
type Server struct {
	registry  *registry.Registry
	hub       *hub.Hub
	validator hub.TokenValidator
	mux       *http.ServeMux
	server    *http.Server
	logger    zerolog.Logger
}

// NewServer wires the routes. A nil validator leaves the REST API open.
func NewServer(reg *registry.Registry, h *hub.Hub, validator hub.TokenValidator) *Server {
	s := &Server{
		registry:  reg,
		hub:       h,
		validator: validator,
		mux:       http.NewServeMux(),
		logger:    log.WithComponent("api"),
	}

	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.Handle("GET /ready", metrics.ReadyHandler())
	s.mux.Handle("GET /live", metrics.LivenessHandler())
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.HandleFunc("GET /ws", h.ServeConsumer)
	s.mux.HandleFunc("GET /producer", h.ServeProducer)

	s.mux.Handle("/api/", s.instrument(readOnly(s.requireToken(s.apiRoutes()))))

	return s
}

func (s *Server) apiRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/instances", s.listInstances)
	mux.HandleFunc("GET /api/instances/{id}", s.getInstance)
	mux.HandleFunc("GET /api/instances/{id}/sessions", s.listInstanceSessions)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSession)
	return mux
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on addr and serves until Shutdown is called
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Shutdown is called
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
	metrics.RegisterComponent("api", true, "listening on "+ln.Addr().String())

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent("api", false, err.Error())
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	metrics.UpdateComponent("api", false, "shutting down")
	return s.server.Shutdown(ctx)
}
