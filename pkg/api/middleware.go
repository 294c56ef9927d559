package api

import (
	"net/http"
	"strconv"

	"github.com/cuemby/agenthub/pkg/hub"
	"github.com/cuemby/agenthub/pkg/metrics"
)

// readOnly rejects every method except GET and HEAD. The REST surface only
// queries state; all mutation arrives over producer connections.
func readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireToken applies the consumer token check to REST requests
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.validator != nil && !s.validator.Validate(hub.TokenFromRequest(r)) {
			metrics.AuthFailuresTotal.Inc()
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid or missing token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument counts requests by route pattern and status
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Msg("API request")
	})
}
