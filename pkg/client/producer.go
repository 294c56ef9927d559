package client

import (
	"context"
	"fmt"

	"github.com/cuemby/agenthub/pkg/protocol"
	"github.com/cuemby/agenthub/pkg/types"
)

// Producer is an agent-side connection
type Producer struct {
	*Conn
	InstanceID string
}

// DialProducer connects to the producer endpoint, e.g.
// ws://127.0.0.1:7420/producer
func DialProducer(ctx context.Context, url string) (*Producer, error) {
	c, err := dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &Producer{Conn: c}, nil
}

// Register announces the instance and waits for the hub's acknowledgement
func (p *Producer) Register(ctx context.Context, inst types.Instance) (string, error) {
	if err := p.Send(protocol.TypeRegister, inst); err != nil {
		return "", err
	}

	for {
		msg, err := p.Next(ctx)
		if err != nil {
			return "", fmt.Errorf("failed waiting for registration: %w", err)
		}
		switch msg.Type {
		case protocol.TypeRegistered:
			var ref protocol.InstanceRef
			if err := msg.ParsePayload(&ref); err != nil {
				return "", err
			}
			p.InstanceID = ref.InstanceID
			return ref.InstanceID, nil
		case protocol.TypeError:
			var e protocol.ErrorPayload
			_ = msg.ParsePayload(&e)
			return "", fmt.Errorf("registration rejected: %s", e.Message)
		}
	}
}

func (p *Producer) Heartbeat() error {
	return p.Send(protocol.TypeHeartbeat, nil)
}

func (p *Producer) StartSession(s types.Session) error {
	return p.Send(protocol.TypeSessionStart, s)
}

func (p *Producer) UpdateSession(u types.SessionUpdate) error {
	return p.Send(protocol.TypeSessionUpdate, u)
}

func (p *Producer) EndSession(sessionID string) error {
	return p.Send(protocol.TypeSessionEnd, protocol.SessionRef{SessionID: sessionID})
}

func (p *Producer) SendEvent(in types.TranscriptEventInput) error {
	return p.Send(protocol.TypeTranscriptEvent, in)
}

// Reply answers a forwarded command
func (p *Producer) Reply(action protocol.Action, result protocol.ControlResult) error {
	return p.Send(action.ResultType(), result)
}
