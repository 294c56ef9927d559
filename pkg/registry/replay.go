package registry

import (
	"fmt"
	"sort"

	"github.com/cuemby/agenthub/pkg/metrics"
	"github.com/cuemby/agenthub/pkg/types"
)

// replay rebuilds sessions and transcript windows from the durable log.
// Instances are not persisted and always start empty.
func (r *Registry) replay() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReplayDuration)

	sessions, err := r.log.LoadSessions()
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	transcripts, err := r.log.LoadAllTranscripts()
	if err != nil {
		return fmt.Errorf("failed to load transcripts: %w", err)
	}

	for id, s := range sessions {
		r.sessions[id] = s
	}

	var total, kept int
	for sessionID, events := range transcripts {
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Timestamp.Before(events[j].Timestamp)
		})

		t := &transcript{
			events: events,
			seen:   make(map[string]struct{}, len(events)),
		}
		for _, ev := range events {
			if ev.SourceID != "" {
				t.seen[ev.SourceID] = struct{}{}
			}
		}
		t.trim(r.maxEvents)
		r.transcripts[sessionID] = t

		total += len(events)
		kept += len(t.events)
	}

	r.updateSessionGauges()
	r.logger.Info().
		Int("sessions", len(r.sessions)).
		Int("transcripts", len(r.transcripts)).
		Int("events", total).
		Int("events_in_memory", kept).
		Dur("took", timer.Duration()).
		Msg("Durable log replayed")
	return nil
}

// Stats summarizes registry contents
type Stats struct {
	Instances        int `json:"instances"`
	Sessions         int `json:"sessions"`
	ActiveSessions   int `json:"activeSessions"`
	TranscriptEvents int `json:"transcriptEvents"`
}

// Stats returns current registry counts
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{
		Instances: len(r.instances),
		Sessions:  len(r.sessions),
	}
	for _, s := range r.sessions {
		if s.Status == types.SessionStatusActive {
			st.ActiveSessions++
		}
	}
	for _, t := range r.transcripts {
		st.TranscriptEvents += len(t.events)
	}
	return st
}
