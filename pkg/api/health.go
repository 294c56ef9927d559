package api

import (
	"net/http"
	"time"

	"github.com/cuemby/agenthub/pkg/hub"
	"github.com/cuemby/agenthub/pkg/metrics"
	"github.com/cuemby/agenthub/pkg/registry"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	Components map[string]string `json:"components,omitempty"`
	Registry   registry.Stats    `json:"registry"`
	Hub        hub.Stats         `json:"hub"`
}

// healthHandler implements the /health endpoint. It reports component health
// together with registry and connection counts.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := metrics.GetHealth()

	response := HealthResponse{
		Status:     health.Status,
		Timestamp:  health.Timestamp,
		Version:    health.Version,
		Uptime:     health.Uptime,
		Components: health.Components,
		Registry:   s.registry.Stats(),
		Hub:        s.hub.Stats(),
	}

	statusCode := http.StatusOK
	if health.Status == metrics.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}
