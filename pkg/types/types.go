package types

import (
	"encoding/json"
	"time"
)

// Instance represents one connected producer process (an IDE running
// agent sessions). Instances are ephemeral and never persisted.
type Instance struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	AppName     string    `json:"appName,omitempty"`
	AppVersion  string    `json:"appVersion,omitempty"`
	Workspace   string    `json:"workspace,omitempty"`
	PID         int       `json:"pid,omitempty"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// SessionStatus represents the current state of a session
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusIdle   SessionStatus = "idle"
	SessionStatusError  SessionStatus = "error"
)

// Valid reports whether s is one of the known session statuses
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusActive, SessionStatusIdle, SessionStatusError:
		return true
	}
	return false
}

// Session represents one unit of producer-side work, typically a single
// agent conversation. Session IDs are globally unique and survive
// reconnects and restarts.
type Session struct {
	ID         string           `json:"id"`
	InstanceID string           `json:"instanceId"`
	Title      string           `json:"title,omitempty"`
	Status     SessionStatus    `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
	Metadata   *SessionMetadata `json:"metadata,omitempty"`
}

// SessionMetadata carries optional descriptive fields reported by the
// producer. Nil fields are absent, so an update can reset a counter to zero.
type SessionMetadata struct {
	Mode          string    `json:"mode,omitempty"`
	Model         string    `json:"model,omitempty"`
	Progress      *Progress `json:"progress,omitempty"`
	MessageCount  *int      `json:"messageCount,omitempty"`
	ToolCallCount *int      `json:"toolCallCount,omitempty"`
}

// Progress tracks completed versus total steps of a running session
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// IsZero reports whether p carries no steps. Merging a zero Progress clears it.
func (p *Progress) IsZero() bool {
	return p.Completed == 0 && p.Total == 0
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Metadata = s.Metadata.Clone()
	return &c
}

// Clone returns a deep copy of the metadata
func (m *SessionMetadata) Clone() *SessionMetadata {
	if m == nil {
		return nil
	}
	c := *m
	if m.Progress != nil {
		p := *m.Progress
		c.Progress = &p
	}
	c.MessageCount = cloneInt(m.MessageCount)
	c.ToolCallCount = cloneInt(m.ToolCallCount)
	return &c
}

// Merge overlays the fields set in other onto m. Empty strings and nil
// pointers leave m unchanged; a zero Progress clears m's progress.
func (m *SessionMetadata) Merge(other *SessionMetadata) {
	if other == nil {
		return
	}
	if other.Mode != "" {
		m.Mode = other.Mode
	}
	if other.Model != "" {
		m.Model = other.Model
	}
	if other.Progress != nil {
		if other.Progress.IsZero() {
			m.Progress = nil
		} else {
			p := *other.Progress
			m.Progress = &p
		}
	}
	if other.MessageCount != nil {
		m.MessageCount = cloneInt(other.MessageCount)
	}
	if other.ToolCallCount != nil {
		m.ToolCallCount = cloneInt(other.ToolCallCount)
	}
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// SessionUpdate is a partial update of a session keyed by ID.
// Nil fields are left unchanged.
type SessionUpdate struct {
	ID       string           `json:"id"`
	Title    *string          `json:"title,omitempty"`
	Status   *SessionStatus   `json:"status,omitempty"`
	Metadata *SessionMetadata `json:"metadata,omitempty"`
}

// Apply merges the update into s. It does not touch UpdatedAt.
func (u *SessionUpdate) Apply(s *Session) {
	if u.Title != nil {
		s.Title = *u.Title
	}
	if u.Status != nil && u.Status.Valid() {
		s.Status = *u.Status
	}
	if u.Metadata != nil {
		if s.Metadata == nil {
			s.Metadata = &SessionMetadata{}
		}
		s.Metadata.Merge(u.Metadata)
	}
}

// EventType tags the kind of transcript event
type EventType string

const (
	EventTypeMessage   EventType = "message"
	EventTypeDelta     EventType = "delta"
	EventTypeToolStart EventType = "tool_start"
	EventTypeToolEnd   EventType = "tool_end"
	EventTypeStatus    EventType = "status"
)

// TranscriptEvent is one immutable fact belonging to a session
type TranscriptEvent struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SourceID  string          `json:"sourceId,omitempty"`
}

// TranscriptEventInput is a producer submission of a transcript event.
// Timestamp is only set when the producer backfills history.
type TranscriptEventInput struct {
	SessionID string          `json:"sessionId"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SourceID  string          `json:"sourceId,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
}

// PendingRequest correlates a forwarded remote-control command with the
// consumer waiting for its result
type PendingRequest struct {
	RequestID  string
	InstanceID string
	Action     string
	ConsumerID string
	CreatedAt  time.Time
}

// Expired reports whether the request is older than timeout at now
func (p *PendingRequest) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.CreatedAt) > timeout
}

// AccessToken authorizes a consumer connection
type AccessToken struct {
	ID        string    `json:"id"`
	Secret    string    `json:"secret"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Expired reports whether the token has an expiry in the past
func (t *AccessToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}
