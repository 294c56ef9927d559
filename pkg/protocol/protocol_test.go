package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(TypeSubscribeSession, SessionRef{SessionID: "s1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"subscribe_session","payload":{"sessionId":"s1"}}`, string(data))

	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TypeSubscribeSession, msg.Type)

	var ref SessionRef
	require.NoError(t, msg.ParsePayload(&ref))
	assert.Equal(t, "s1", ref.SessionID)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `hello`},
		{"missing type", `{"payload":{}}`},
		{"truncated", `{"type":"ping"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestParsePayload_Empty(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ping"}`))
	require.NoError(t, err)

	ref := SessionRef{SessionID: "kept"}
	require.NoError(t, msg.ParsePayload(&ref))
	assert.Equal(t, "kept", ref.SessionID)

	msg.Payload = []byte(`[1,2]`)
	assert.Error(t, msg.ParsePayload(&ref))
}

func TestActions(t *testing.T) {
	tests := []struct {
		msgType string
		known   bool
		enabled bool
		command string
		result  string
	}{
		{"create_session", true, true, "command_create_session", "create_session_result"},
		{"stop_session", true, true, "command_stop_session", "stop_session_result"},
		{"list_models", true, true, "command_list_models", "list_models_result"},
		{"send_message", true, false, "command_send_message", "send_message_result"},
		{"subscribe", false, false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.msgType, func(t *testing.T) {
			a, ok := ParseAction(tt.msgType)
			assert.Equal(t, tt.known, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.enabled, a.Enabled())
			assert.Equal(t, tt.command, a.CommandType())
			assert.Equal(t, tt.result, a.ResultType())

			back, ok := ParseResultType(a.ResultType())
			assert.True(t, ok)
			assert.Equal(t, a, back)
		})
	}

	_, ok := ParseResultType("subscribe_result")
	assert.False(t, ok)
	_, ok = ParseResultType("create_session")
	assert.False(t, ok)
}
