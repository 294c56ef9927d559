package storage

import (
	"time"

	"github.com/cuemby/agenthub/pkg/types"
)

// SessionOp identifies a session lifecycle record
type SessionOp string

const (
	SessionOpStart  SessionOp = "start"
	SessionOpUpdate SessionOp = "update"
	SessionOpEnd    SessionOp = "end"
)

// SessionRecord is one line of the session lifecycle log
type SessionRecord struct {
	Op        SessionOp            `json:"op"`
	Timestamp time.Time            `json:"ts"`
	SessionID string               `json:"sessionId"`
	Session   *types.Session       `json:"session,omitempty"`
	Update    *types.SessionUpdate `json:"update,omitempty"`
}

// Log defines the durable, append-only history of sessions and transcripts.
// The registry is its only writer.
type Log interface {
	// Sessions
	AppendSessionRecord(rec SessionRecord) error
	LoadSessions() (map[string]*types.Session, error)

	// Transcripts
	AppendTranscriptEvent(ev *types.TranscriptEvent) error
	LoadTranscript(sessionID string) ([]*types.TranscriptEvent, error)
	LoadAllTranscripts() (map[string][]*types.TranscriptEvent, error)

	// Utility
	Close() error
}

// TokenStore defines persistence for consumer access tokens
type TokenStore interface {
	PutToken(token *types.AccessToken) error
	GetToken(secret string) (*types.AccessToken, error)
	ListTokens() ([]*types.AccessToken, error)
	DeleteToken(secret string) error
	Close() error
}
