package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuemby/agenthub/pkg/types"
)

// Consumer to hub
const (
	TypeSubscribe          = "subscribe"
	TypeUnsubscribe        = "unsubscribe"
	TypeSubscribeSession   = "subscribe_session"
	TypeUnsubscribeSession = "unsubscribe_session"
	TypePing               = "ping"
)

// Hub to consumer
const (
	TypePong               = "pong"
	TypeInstanceList       = "instance_list"
	TypeSessionList        = "session_list"
	TypeTranscriptHistory  = "transcript_history"
	TypeInstanceUpdate     = "instance_update"
	TypeInstanceDisconnect = "instance_disconnect"
	TypeError              = "error"
)

// Producer to hub. TypeSessionUpdate and TypeTranscriptEvent are also used
// for the matching hub to consumer broadcasts.
const (
	TypeRegister        = "register"
	TypeHeartbeat       = "heartbeat"
	TypeSessionStart    = "session_start"
	TypeSessionUpdate   = "session_update"
	TypeSessionEnd      = "session_end"
	TypeTranscriptEvent = "transcript_event"
)

// Hub to producer
const (
	TypeRegistered = "registered"
)

// Error codes carried by error messages
const (
	CodeUnauthorized  = "unauthorized"
	CodeBadRequest    = "bad_request"
	CodeUnknownType   = "unknown_type"
	CodeNotRegistered = "not_registered"
	CodeNotFound      = "not_found"
	CodeInternal      = "internal"
)

// ErrEmptyType is returned when a message has no type
var ErrEmptyType = errors.New("message type is required")

// Message is the envelope of every frame exchanged with the hub
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message with payload encoded as JSON
func NewMessage(msgType string, payload any) (*Message, error) {
	msg := &Message{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	msg.Payload = data
	return msg, nil
}

// Encode builds a message and serializes it to a single JSON frame
func Encode(msgType string, payload any) ([]byte, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Decode parses a frame into its envelope. The payload is left raw.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if msg.Type == "" {
		return nil, ErrEmptyType
	}
	return &msg, nil
}

// ParsePayload decodes the payload into v. A missing payload leaves v unchanged.
func (m *Message) ParsePayload(v any) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", m.Type, err)
	}
	return nil
}

// ErrorPayload reports a problem with a connection or one of its messages
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// SessionRef names one session
type SessionRef struct {
	SessionID string `json:"sessionId"`
}

// InstanceRef names one instance
type InstanceRef struct {
	InstanceID string `json:"instanceId"`
}

type InstanceListPayload struct {
	Instances []*types.Instance `json:"instances"`
}

type SessionListPayload struct {
	Sessions []*types.Session `json:"sessions"`
}

type TranscriptHistoryPayload struct {
	SessionID string                   `json:"sessionId"`
	Events    []*types.TranscriptEvent `json:"events"`
}
