package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/agenthub/pkg/events"
	"github.com/cuemby/agenthub/pkg/log"
	"github.com/cuemby/agenthub/pkg/metrics"
	"github.com/cuemby/agenthub/pkg/storage"
	"github.com/cuemby/agenthub/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultMaxTranscriptEvents bounds the in-memory transcript window per session
const DefaultMaxTranscriptEvents = 10000

var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrMissingID        = errors.New("id is required")
)

// Config holds registry configuration
type Config struct {
	// Log is the durable log. Nil keeps all state in memory only.
	Log storage.Log

	// MaxTranscriptEvents bounds each session's in-memory window.
	// Zero means DefaultMaxTranscriptEvents.
	MaxTranscriptEvents int

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// InstanceChangeKind distinguishes instance updates from removals
type InstanceChangeKind string

const (
	InstanceUpdated InstanceChangeKind = "updated"
	InstanceRemoved InstanceChangeKind = "removed"
)

// InstanceChange is published whenever an instance is registered,
// heartbeats, or is removed
type InstanceChange struct {
	Kind     InstanceChangeKind
	Instance *types.Instance
}

type transcript struct {
	events []*types.TranscriptEvent
	seen   map[string]struct{}
}

// Registry is the authoritative in-memory owner of instances, sessions and
// transcripts. Every operation runs under one mutex so that check, mutate,
// persist and notify happen as a unit. Listeners run inside that critical
// section and must not call back into the Registry.
type Registry struct {
	mu          sync.Mutex
	instances   map[string]*types.Instance
	sessions    map[string]*types.Session
	transcripts map[string]*transcript

	log       storage.Log
	maxEvents int
	now       func() time.Time
	logger    zerolog.Logger

	instanceListeners   *events.Listeners[InstanceChange]
	sessionListeners    *events.Listeners[*types.Session]
	transcriptListeners *events.Listeners[*types.TranscriptEvent]
}

// New creates a registry and, when a durable log is configured, replays it
// before returning
func New(cfg Config) (*Registry, error) {
	r := &Registry{
		instances:           make(map[string]*types.Instance),
		sessions:            make(map[string]*types.Session),
		transcripts:         make(map[string]*transcript),
		log:                 cfg.Log,
		maxEvents:           cfg.MaxTranscriptEvents,
		now:                 cfg.Now,
		logger:              log.WithComponent("registry"),
		instanceListeners:   events.NewListeners[InstanceChange]("instance"),
		sessionListeners:    events.NewListeners[*types.Session]("session"),
		transcriptListeners: events.NewListeners[*types.TranscriptEvent]("transcript"),
	}
	if r.maxEvents <= 0 {
		r.maxEvents = DefaultMaxTranscriptEvents
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}

	if r.log != nil {
		if err := r.replay(); err != nil {
			return nil, fmt.Errorf("failed to replay durable log: %w", err)
		}
	}

	return r, nil
}

// OnInstanceChange registers a listener for instance changes
func (r *Registry) OnInstanceChange(fn func(InstanceChange)) events.Unsubscribe {
	return r.instanceListeners.Subscribe(fn)
}

// OnSessionChange registers a listener for session changes
func (r *Registry) OnSessionChange(fn func(*types.Session)) events.Unsubscribe {
	return r.sessionListeners.Subscribe(fn)
}

// OnTranscriptEvent registers a listener for accepted transcript events
func (r *Registry) OnTranscriptEvent(fn func(*types.TranscriptEvent)) events.Unsubscribe {
	return r.transcriptListeners.Subscribe(fn)
}

// Instance operations

// RegisterInstance records a producer instance. A missing ID is generated.
// Re-registering a known ID refreshes its metadata and keeps FirstSeenAt.
func (r *Registry) RegisterInstance(in types.Instance) *types.Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	inst := in
	inst.FirstSeenAt = now
	if existing, ok := r.instances[in.ID]; ok {
		inst.FirstSeenAt = existing.FirstSeenAt
	}
	inst.LastSeenAt = now
	r.instances[inst.ID] = &inst

	metrics.InstancesTotal.Set(float64(len(r.instances)))
	r.logger.Info().Str("instance_id", inst.ID).Str("app", inst.AppName).Msg("Instance registered")

	out := inst
	r.instanceListeners.Publish(InstanceChange{Kind: InstanceUpdated, Instance: &out})
	return &inst
}

// Heartbeat refreshes an instance's LastSeenAt
func (r *Registry) Heartbeat(instanceID string) (*types.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	inst.LastSeenAt = r.now()

	out := *inst
	r.instanceListeners.Publish(InstanceChange{Kind: InstanceUpdated, Instance: &out})
	copied := *inst
	return &copied, nil
}

// RemoveInstance drops an instance and marks every active session it owns
// as idle. Sessions already idle or in error are left untouched.
func (r *Registry) RemoveInstance(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	idle := types.SessionStatusIdle
	for _, s := range r.sortedSessions() {
		if s.InstanceID != instanceID || s.Status != types.SessionStatusActive {
			continue
		}
		s.Status = types.SessionStatusIdle
		s.UpdatedAt = now
		r.persistSession(storage.SessionRecord{
			Op:        storage.SessionOpUpdate,
			Timestamp: now,
			SessionID: s.ID,
			Update:    &types.SessionUpdate{ID: s.ID, Status: &idle},
		})
		r.sessionListeners.Publish(s.Clone())
	}
	r.updateSessionGauges()

	inst, ok := r.instances[instanceID]
	if !ok {
		return
	}
	delete(r.instances, instanceID)
	metrics.InstancesTotal.Set(float64(len(r.instances)))
	r.logger.Info().Str("instance_id", instanceID).Msg("Instance removed")

	out := *inst
	r.instanceListeners.Publish(InstanceChange{Kind: InstanceRemoved, Instance: &out})
}

// GetInstance returns a copy of an instance
func (r *Registry) GetInstance(id string) (*types.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	out := *inst
	return &out, nil
}

// ListInstances returns copies of all instances ordered by first sighting
func (r *Registry) ListInstances() []*types.Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listInstances()
}

func (r *Registry) listInstances() []*types.Instance {
	out := make([]*types.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		c := *inst
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeenAt.Equal(out[j].FirstSeenAt) {
			return out[i].FirstSeenAt.Before(out[j].FirstSeenAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Session operations

// StartSession creates a session, or reactivates a known one by reassigning
// its instance and flipping it back to active
func (r *Registry) StartSession(in types.Session) (*types.Session, error) {
	if in.ID == "" {
		return nil, fmt.Errorf("session %w", ErrMissingID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s, ok := r.sessions[in.ID]
	if ok {
		s.InstanceID = in.InstanceID
		s.Status = types.SessionStatusActive
		if in.Title != "" {
			s.Title = in.Title
		}
		if in.Metadata != nil {
			if s.Metadata == nil {
				s.Metadata = &types.SessionMetadata{}
			}
			s.Metadata.Merge(in.Metadata)
		}
		s.UpdatedAt = now
		r.logger.Info().Str("session_id", s.ID).Str("instance_id", s.InstanceID).Msg("Session reactivated")
	} else {
		s = &types.Session{
			ID:         in.ID,
			InstanceID: in.InstanceID,
			Title:      in.Title,
			Status:     types.SessionStatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
			Metadata:   in.Metadata.Clone(),
		}
		r.sessions[s.ID] = s
		r.logger.Info().Str("session_id", s.ID).Str("instance_id", s.InstanceID).Msg("Session started")
	}

	r.persistSession(storage.SessionRecord{
		Op:        storage.SessionOpStart,
		Timestamp: now,
		SessionID: s.ID,
		Session:   s.Clone(),
	})
	r.updateSessionGauges()
	r.sessionListeners.Publish(s.Clone())
	return s.Clone(), nil
}

// UpdateSession applies a partial update to a known session
func (r *Registry) UpdateSession(u types.SessionUpdate) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[u.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, u.ID)
	}

	now := r.now()
	u.Apply(s)
	s.UpdatedAt = now

	update := u
	r.persistSession(storage.SessionRecord{
		Op:        storage.SessionOpUpdate,
		Timestamp: now,
		SessionID: s.ID,
		Update:    &update,
	})
	r.updateSessionGauges()
	r.sessionListeners.Publish(s.Clone())
	return s.Clone(), nil
}

// EndSession marks a session idle. Sessions are never deleted.
func (r *Registry) EndSession(sessionID string) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	now := r.now()
	s.Status = types.SessionStatusIdle
	s.UpdatedAt = now

	r.persistSession(storage.SessionRecord{
		Op:        storage.SessionOpEnd,
		Timestamp: now,
		SessionID: s.ID,
	})
	r.updateSessionGauges()
	r.logger.Info().Str("session_id", s.ID).Msg("Session ended")
	r.sessionListeners.Publish(s.Clone())
	return s.Clone(), nil
}

// GetSession returns a copy of a session
func (r *Registry) GetSession(id string) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.Clone(), nil
}

// ListSessions returns copies of all sessions ordered by creation time
func (r *Registry) ListSessions() []*types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listSessions()
}

// ListSessionsByInstance returns the sessions currently owned by an instance
func (r *Registry) ListSessionsByInstance(instanceID string) []*types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*types.Session
	for _, s := range r.sortedSessions() {
		if s.InstanceID == instanceID {
			out = append(out, s.Clone())
		}
	}
	return out
}

func (r *Registry) listSessions() []*types.Session {
	sorted := r.sortedSessions()
	out := make([]*types.Session, len(sorted))
	for i, s := range sorted {
		out[i] = s.Clone()
	}
	return out
}

// sortedSessions returns the live session pointers in creation order
func (r *Registry) sortedSessions() []*types.Session {
	out := make([]*types.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Snapshots

// SnapshotState calls fn with the current instances and sessions while no
// mutation can interleave. fn must not call back into the Registry.
func (r *Registry) SnapshotState(fn func(instances []*types.Instance, sessions []*types.Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.listInstances(), r.listSessions())
}

// SnapshotTranscript calls fn with a session's current transcript window
// while no mutation can interleave. fn must not call back into the Registry.
func (r *Registry) SnapshotTranscript(sessionID string, fn func(events []*types.TranscriptEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.transcriptEvents(sessionID, ""))
}

func (r *Registry) persistSession(rec storage.SessionRecord) {
	if r.log == nil {
		return
	}
	if err := r.log.AppendSessionRecord(rec); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues("session").Inc()
		r.logger.Error().Err(err).
			Str("session_id", rec.SessionID).
			Str("op", string(rec.Op)).
			Msg("Failed to persist session record")
	}
}

func (r *Registry) updateSessionGauges() {
	counts := map[types.SessionStatus]int{
		types.SessionStatusActive: 0,
		types.SessionStatusIdle:   0,
		types.SessionStatusError:  0,
	}
	for _, s := range r.sessions {
		counts[s.Status]++
	}
	for status, n := range counts {
		metrics.SessionsTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}
