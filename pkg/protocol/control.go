package protocol

import (
	"encoding/json"
	"strings"
)

// Action is a remote-control operation a consumer can ask a producer to run
type Action string

const (
	ActionCreateSession Action = "create_session"
	ActionStopSession   Action = "stop_session"
	ActionListModels    Action = "list_models"
	ActionSendMessage   Action = "send_message"
)

const (
	commandPrefix = "command_"
	resultSuffix  = "_result"
)

// Fixed failure messages of control results
const (
	ErrMsgTargetUnavailable = "target instance not connected"
	ErrMsgTimeout           = "request timed out"
	ErrMsgSendDisabled      = "sending messages to existing sessions is not supported"
)

// actions lists every known action and whether it may be forwarded
var actions = map[Action]bool{
	ActionCreateSession: true,
	ActionStopSession:   true,
	ActionListModels:    true,
	ActionSendMessage:   false,
}

// ParseAction reports whether a consumer message type is a control request
func ParseAction(msgType string) (Action, bool) {
	a := Action(msgType)
	_, ok := actions[a]
	return a, ok
}

// ParseResultType reports whether a producer message type is a control
// result and for which action
func ParseResultType(msgType string) (Action, bool) {
	name, ok := strings.CutSuffix(msgType, resultSuffix)
	if !ok {
		return "", false
	}
	return ParseAction(name)
}

// Enabled reports whether the action is forwarded to producers
func (a Action) Enabled() bool {
	return actions[a]
}

// CommandType is the message type forwarded to the producer
func (a Action) CommandType() string {
	return commandPrefix + string(a)
}

// ResultType is the message type of the reply, both from the producer and
// to the consumer
func (a Action) ResultType() string {
	return string(a) + resultSuffix
}

// ControlRequest is issued by a consumer against one instance
type ControlRequest struct {
	RequestID  string          `json:"requestId"`
	InstanceID string          `json:"instanceId"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// Command is what the hub forwards to the producer
type Command struct {
	RequestID string          `json:"requestId"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// ControlResult is the reply to a control request
type ControlResult struct {
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Failure builds a failed result for requestID
func Failure(requestID, reason string) ControlResult {
	return ControlResult{RequestID: requestID, Success: false, Error: reason}
}
