package hub

import (
	"github.com/cuemby/agenthub/pkg/metrics"
	"github.com/cuemby/agenthub/pkg/protocol"
	"github.com/cuemby/agenthub/pkg/types"
)

func (h *Hub) handleConsumerMessage(c *conn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.sendError(protocol.CodeBadRequest, err.Error())
		return
	}
	metrics.MessagesReceivedTotal.WithLabelValues(string(RoleConsumer), msg.Type).Inc()

	switch msg.Type {
	case protocol.TypePing:
		c.sendMessage(protocol.TypePong, nil)

	case protocol.TypeSubscribe:
		h.subscribeGlobal(c)

	case protocol.TypeUnsubscribe:
		c.setGlobal(false)

	case protocol.TypeSubscribeSession, protocol.TypeUnsubscribeSession:
		var ref protocol.SessionRef
		if err := msg.ParsePayload(&ref); err != nil {
			c.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		if ref.SessionID == "" {
			c.sendError(protocol.CodeBadRequest, "sessionId is required")
			return
		}
		if msg.Type == protocol.TypeSubscribeSession {
			h.subscribeSession(c, ref.SessionID)
		} else {
			c.watchSession(ref.SessionID, false)
		}

	default:
		action, ok := protocol.ParseAction(msg.Type)
		if !ok {
			c.sendError(protocol.CodeUnknownType, "unknown message type: "+msg.Type)
			return
		}
		var req protocol.ControlRequest
		if err := msg.ParsePayload(&req); err != nil {
			c.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		if req.RequestID == "" {
			c.sendError(protocol.CodeBadRequest, "requestId is required")
			return
		}
		h.request(c, action, req)
	}
}

// subscribeGlobal sends the current instance and session lists, then marks
// the connection global. Both happen under the registry lock so no change
// can slip between snapshot and stream.
func (h *Hub) subscribeGlobal(c *conn) {
	h.registry.SnapshotState(func(instances []*types.Instance, sessions []*types.Session) {
		c.sendMessage(protocol.TypeInstanceList, protocol.InstanceListPayload{Instances: instances})
		c.sendMessage(protocol.TypeSessionList, protocol.SessionListPayload{Sessions: sessions})
		c.setGlobal(true)
	})
	c.logger.Debug().Msg("Subscribed to global stream")
}

func (h *Hub) subscribeSession(c *conn, sessionID string) {
	h.registry.SnapshotTranscript(sessionID, func(events []*types.TranscriptEvent) {
		c.sendMessage(protocol.TypeTranscriptHistory, protocol.TranscriptHistoryPayload{
			SessionID: sessionID,
			Events:    events,
		})
		c.watchSession(sessionID, true)
	})
	c.logger.Debug().Str("session_id", sessionID).Msg("Subscribed to session")
}
