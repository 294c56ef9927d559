package hub

import (
	"errors"

	"github.com/cuemby/agenthub/pkg/metrics"
	"github.com/cuemby/agenthub/pkg/protocol"
	"github.com/cuemby/agenthub/pkg/registry"
	"github.com/cuemby/agenthub/pkg/types"
	"github.com/google/uuid"
)

func (h *Hub) handleProducerMessage(c *conn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.sendError(protocol.CodeBadRequest, err.Error())
		return
	}
	metrics.MessagesReceivedTotal.WithLabelValues(string(RoleProducer), msg.Type).Inc()

	if msg.Type == protocol.TypeRegister {
		h.register(c, msg)
		return
	}

	instanceID := c.getInstanceID()
	if instanceID == "" {
		c.sendError(protocol.CodeNotRegistered, "register before sending "+msg.Type)
		return
	}

	switch msg.Type {
	case protocol.TypeHeartbeat:
		if _, err := h.registry.Heartbeat(instanceID); err != nil {
			c.logger.Warn().Err(err).Msg("Heartbeat for unknown instance")
		}

	case protocol.TypeSessionStart:
		var s types.Session
		if err := msg.ParsePayload(&s); err != nil {
			c.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		s.InstanceID = instanceID
		if _, err := h.registry.StartSession(s); err != nil {
			c.sendError(protocol.CodeBadRequest, err.Error())
		}

	case protocol.TypeSessionUpdate:
		var u types.SessionUpdate
		if err := msg.ParsePayload(&u); err != nil {
			c.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		if _, err := h.registry.UpdateSession(u); err != nil {
			h.reportRegistryError(c, err)
		}

	case protocol.TypeSessionEnd:
		var ref protocol.SessionRef
		if err := msg.ParsePayload(&ref); err != nil {
			c.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		if _, err := h.registry.EndSession(ref.SessionID); err != nil {
			h.reportRegistryError(c, err)
		}

	case protocol.TypeTranscriptEvent:
		var in types.TranscriptEventInput
		if err := msg.ParsePayload(&in); err != nil {
			c.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		if in.SessionID == "" || in.Type == "" {
			c.sendError(protocol.CodeBadRequest, "sessionId and type are required")
			return
		}
		h.registry.AddTranscriptEvent(in)

	default:
		action, ok := protocol.ParseResultType(msg.Type)
		if !ok {
			c.sendError(protocol.CodeUnknownType, "unknown message type: "+msg.Type)
			return
		}
		var result protocol.ControlResult
		if err := msg.ParsePayload(&result); err != nil {
			c.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		h.resolve(instanceID, action, result)
	}
}

// register binds the connection to an instance. A newer connection for the
// same instance replaces the older one, which is then closed. The binding is
// in place before the registry announces the instance, so a consumer reacting
// to instance_update can already reach it.
func (h *Hub) register(c *conn, msg *protocol.Message) {
	var in types.Instance
	if err := msg.ParsePayload(&in); err != nil {
		c.sendError(protocol.CodeBadRequest, err.Error())
		return
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	previousID := c.getInstanceID()
	c.setInstanceID(in.ID)

	h.mu.Lock()
	superseded := h.producers[in.ID]
	h.producers[in.ID] = c
	releasedOld := previousID != "" && previousID != in.ID && h.producers[previousID] == c
	if releasedOld {
		delete(h.producers, previousID)
	}
	h.mu.Unlock()

	if releasedOld {
		h.registry.RemoveInstance(previousID)
	}
	inst := h.registry.RegisterInstance(in)

	if superseded != nil && superseded != c {
		superseded.logger.Info().Str("instance_id", inst.ID).Msg("Producer superseded by a newer connection")
		superseded.Close()
	}

	c.logger.Info().Str("instance_id", inst.ID).Msg("Producer registered")
	c.sendMessage(protocol.TypeRegistered, protocol.InstanceRef{InstanceID: inst.ID})
}

func (h *Hub) reportRegistryError(c *conn, err error) {
	switch {
	case errors.Is(err, registry.ErrSessionNotFound), errors.Is(err, registry.ErrInstanceNotFound):
		c.sendError(protocol.CodeNotFound, err.Error())
	default:
		c.sendError(protocol.CodeInternal, err.Error())
	}
}
