package hub

import (
	"github.com/cuemby/agenthub/pkg/metrics"
	"github.com/cuemby/agenthub/pkg/protocol"
	"github.com/cuemby/agenthub/pkg/types"
)

// request forwards a consumer's control request to the producer owning the
// target instance and records it as pending
func (h *Hub) request(c *conn, action protocol.Action, req protocol.ControlRequest) {
	logger := c.logger.With().
		Str("action", string(action)).
		Str("request_id", req.RequestID).
		Str("instance_id", req.InstanceID).
		Logger()

	if !action.Enabled() {
		metrics.ControlRequestsTotal.WithLabelValues(string(action), "disabled").Inc()
		c.sendMessage(action.ResultType(), protocol.Failure(req.RequestID, protocol.ErrMsgSendDisabled))
		return
	}

	cmd, err := protocol.Encode(action.CommandType(), protocol.Command{
		RequestID: req.RequestID,
		Params:    req.Params,
	})
	if err != nil {
		c.sendError(protocol.CodeBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	producer, ok := h.producers[req.InstanceID]
	if ok {
		if _, exists := h.pending[req.RequestID]; exists {
			logger.Warn().Msg("Request id reused, replacing pending request")
		}
		h.pending[req.RequestID] = &pendingEntry{
			PendingRequest: types.PendingRequest{
				RequestID:  req.RequestID,
				InstanceID: req.InstanceID,
				Action:     string(action),
				ConsumerID: c.id,
				CreatedAt:  h.cfg.Now(),
			},
			consumer: c,
		}
		metrics.PendingRequests.Set(float64(len(h.pending)))
	}
	h.mu.Unlock()

	if !ok {
		metrics.ControlRequestsTotal.WithLabelValues(string(action), "unavailable").Inc()
		logger.Debug().Msg("Control request for disconnected instance")
		c.sendMessage(action.ResultType(), protocol.Failure(req.RequestID, protocol.ErrMsgTargetUnavailable))
		return
	}

	metrics.ControlRequestsTotal.WithLabelValues(string(action), "forwarded").Inc()
	if !producer.SafeSend(cmd) {
		logger.Warn().Msg("Producer send queue full, request will time out")
	}
}

// resolve relays a producer's result to the consumer waiting for it. Results
// with no matching pending request, or from the wrong instance, are dropped.
func (h *Hub) resolve(instanceID string, action protocol.Action, result protocol.ControlResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pending[result.RequestID]
	if !ok {
		h.logger.Debug().
			Str("request_id", result.RequestID).
			Str("instance_id", instanceID).
			Msg("Dropping result without pending request")
		return
	}
	if p.InstanceID != instanceID || p.Action != string(action) {
		h.logger.Warn().
			Str("request_id", result.RequestID).
			Str("instance_id", instanceID).
			Str("action", string(action)).
			Msg("Dropping result that does not match its pending request")
		return
	}

	delete(h.pending, result.RequestID)
	metrics.PendingRequests.Set(float64(len(h.pending)))
	metrics.ControlRequestDuration.WithLabelValues(p.Action).Observe(h.cfg.Now().Sub(p.CreatedAt).Seconds())
	metrics.ControlRequestsTotal.WithLabelValues(p.Action, "completed").Inc()

	p.consumer.sendMessage(action.ResultType(), result)
}

// sweep fails every pending request older than the request timeout. Removal
// and reply happen under the hub lock so a racing producer result cannot
// produce a second reply.
func (h *Hub) sweep() {
	now := h.cfg.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, p := range h.pending {
		if !p.Expired(now, h.cfg.RequestTimeout) {
			continue
		}
		delete(h.pending, id)
		metrics.ControlRequestsTotal.WithLabelValues(p.Action, "timeout").Inc()
		h.logger.Info().
			Str("request_id", id).
			Str("instance_id", p.InstanceID).
			Str("action", p.Action).
			Msg("Control request timed out")

		action := protocol.Action(p.Action)
		p.consumer.sendMessage(action.ResultType(), protocol.Failure(id, protocol.ErrMsgTimeout))
	}
	metrics.PendingRequests.Set(float64(len(h.pending)))
}
