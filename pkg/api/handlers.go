package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cuemby/agenthub/pkg/registry"
	"github.com/cuemby/agenthub/pkg/types"
)

// SessionResponse is returned by GET /api/sessions/{id}
type SessionResponse struct {
	Session *types.Session           `json:"session"`
	Events  []*types.TranscriptEvent `json:"events"`
}

// ErrorResponse is the body of every non-2xx REST reply
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ListInstances())
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.registry.GetInstance(r.PathValue("id"))
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) listInstanceSessions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.registry.GetInstance(id); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	sessions := s.registry.ListSessionsByInstance(id)
	if sessions == nil {
		sessions = []*types.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ListSessions())
}

// getSession returns a session with its transcript. ?after=<eventId> limits
// the transcript to events following that event.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events := s.registry.TranscriptEvents(id, r.URL.Query().Get("after"))

	session, err := s.registry.GetSession(id)
	if err != nil && !errors.Is(err, registry.ErrSessionNotFound) {
		s.writeRegistryError(w, err)
		return
	}
	if session == nil && len(events) == 0 {
		s.writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{Session: session, Events: events})
}

func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrInstanceNotFound), errors.Is(err, registry.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	default:
		s.logger.Error().Err(err).Msg("Registry query failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
