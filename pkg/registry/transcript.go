package registry

import (
	"sort"
	"time"

	"github.com/cuemby/agenthub/pkg/metrics"
	"github.com/cuemby/agenthub/pkg/types"
	"github.com/google/uuid"
)

// AddTranscriptEvent appends a transcript event to its session. It returns
// false without error when SourceID has already been seen for the session.
//
// Events are appended in acceptance order. Only an event whose Timestamp is
// earlier than the newest retained event counts as backfill; it is inserted in
// timestamp order, after any events sharing that timestamp. Every other event
// is stamped no later than the hub clock and no earlier than the current
// tail, so producer clock skew or a wall-clock step back cannot reorder live
// events. The session does not have to be known.
//
// Returned events are shared with the registry and must be treated as
// read-only.
func (r *Registry) AddTranscriptEvent(in types.TranscriptEventInput) (*types.TranscriptEvent, bool) {
	if in.SessionID == "" {
		r.logger.Warn().Msg("Dropping transcript event without session id")
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.transcript(in.SessionID)
	if in.SourceID != "" {
		if _, dup := t.seen[in.SourceID]; dup {
			metrics.TranscriptEventsTotal.WithLabelValues("duplicate").Inc()
			r.logger.Debug().
				Str("session_id", in.SessionID).
				Str("source_id", in.SourceID).
				Msg("Duplicate transcript event ignored")
			return nil, false
		}
	}

	ev := &types.TranscriptEvent{
		ID:        uuid.NewString(),
		SessionID: in.SessionID,
		Type:      in.Type,
		Payload:   in.Payload,
		SourceID:  in.SourceID,
	}
	if tail, ok := t.tail(); ok && !in.Timestamp.IsZero() && in.Timestamp.Before(tail) {
		ev.Timestamp = in.Timestamp.UTC()
		t.insert(ev)
	} else {
		ev.Timestamp = r.liveTimestamp(t, in.Timestamp)
		t.events = append(t.events, ev)
	}
	if ev.SourceID != "" {
		t.seen[ev.SourceID] = struct{}{}
	}
	if evicted := t.trim(r.maxEvents); evicted > 0 {
		metrics.TranscriptEvictionsTotal.Add(float64(evicted))
	}
	metrics.TranscriptEventsTotal.WithLabelValues("accepted").Inc()

	if r.log != nil {
		if err := r.log.AppendTranscriptEvent(ev); err != nil {
			metrics.PersistenceFailuresTotal.WithLabelValues("transcript").Inc()
			r.logger.Error().Err(err).
				Str("session_id", ev.SessionID).
				Str("event_id", ev.ID).
				Msg("Failed to persist transcript event")
		}
	}

	r.transcriptListeners.Publish(ev)
	return ev, true
}

// TranscriptEvents returns a session's in-memory transcript window in order.
// With afterID set, only the events following that event are returned. An
// afterID that is no longer in the window yields the whole window.
func (r *Registry) TranscriptEvents(sessionID, afterID string) []*types.TranscriptEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcriptEvents(sessionID, afterID)
}

func (r *Registry) transcriptEvents(sessionID, afterID string) []*types.TranscriptEvent {
	t, ok := r.transcripts[sessionID]
	if !ok {
		return []*types.TranscriptEvent{}
	}

	events := t.events
	if afterID != "" {
		for i, ev := range events {
			if ev.ID == afterID {
				events = events[i+1:]
				break
			}
		}
	}

	out := make([]*types.TranscriptEvent, len(events))
	copy(out, events)
	return out
}

func (r *Registry) transcript(sessionID string) *transcript {
	t, ok := r.transcripts[sessionID]
	if !ok {
		t = &transcript{seen: make(map[string]struct{})}
		r.transcripts[sessionID] = t
	}
	return t
}

// liveTimestamp clamps a producer timestamp to the hub clock and keeps the
// transcript non-decreasing
func (r *Registry) liveTimestamp(t *transcript, requested time.Time) time.Time {
	ts := r.now()
	if !requested.IsZero() && requested.Before(ts) {
		ts = requested.UTC()
	}
	if tail, ok := t.tail(); ok && ts.Before(tail) {
		ts = tail
	}
	return ts
}

func (t *transcript) tail() (time.Time, bool) {
	if len(t.events) == 0 {
		return time.Time{}, false
	}
	return t.events[len(t.events)-1].Timestamp, true
}

// insert places a backfilled event after every event not newer than it
func (t *transcript) insert(ev *types.TranscriptEvent) {
	n := len(t.events)
	idx := sort.Search(n, func(i int) bool {
		return t.events[i].Timestamp.After(ev.Timestamp)
	})
	t.events = append(t.events, nil)
	copy(t.events[idx+1:], t.events[idx:])
	t.events[idx] = ev
}

// trim drops the oldest events beyond max and reports how many went.
// The dedup set is left alone so evicted SourceIDs stay rejected.
func (t *transcript) trim(max int) int {
	drop := len(t.events) - max
	if drop <= 0 {
		return 0
	}
	clear(t.events[:drop])
	t.events = t.events[drop:]
	return drop
}
