package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/agenthub/pkg/client"
	"github.com/cuemby/agenthub/pkg/protocol"
	"github.com/cuemby/agenthub/pkg/registry"
	"github.com/cuemby/agenthub/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "let-me-in"

type testEnv struct {
	reg    *registry.Registry
	hub    *Hub
	server *httptest.Server
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	reg, err := registry.New(registry.Config{})
	require.NoError(t, err)

	h := New(reg, ValidatorFunc(func(token string) bool { return token == testToken }), cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeConsumer)
	mux.HandleFunc("/producer", h.ServeProducer)
	server := httptest.NewServer(mux)

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	t.Cleanup(func() {
		cancel()
		h.Close()
		server.Close()
	})

	return &testEnv{reg: reg, hub: h, server: server}
}

func (e *testEnv) url(path string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + path
}

func (e *testEnv) consumer(t *testing.T) *client.Consumer {
	t.Helper()
	c, err := client.DialConsumer(context.Background(), e.url("/ws"), testToken)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func (e *testEnv) producer(t *testing.T, inst types.Instance) *client.Producer {
	t.Helper()
	p, err := client.DialProducer(context.Background(), e.url("/producer"))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = p.Register(ctx, inst)
	require.NoError(t, err)
	return p
}

func next(t *testing.T, c *client.Conn) *protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := c.Next(ctx)
	require.NoError(t, err)
	return msg
}

func expect(t *testing.T, c *client.Conn, msgType string) *protocol.Message {
	t.Helper()
	msg := next(t, c)
	require.Equal(t, msgType, msg.Type, "payload: %s", msg.Payload)
	return msg
}

func expectResult(t *testing.T, c *client.Conn, action protocol.Action) protocol.ControlResult {
	t.Helper()
	msg := expect(t, c, action.ResultType())
	var result protocol.ControlResult
	require.NoError(t, msg.ParsePayload(&result))
	return result
}

// expectQuiet proves nothing else is queued for c by round-tripping a ping
func expectQuiet(t *testing.T, c *client.Consumer) {
	t.Helper()
	require.NoError(t, c.Ping())
	expect(t, c.Conn, protocol.TypePong)
}

func TestConsumer_Unauthenticated(t *testing.T) {
	env := newTestEnv(t, Config{})

	c, err := client.DialConsumer(context.Background(), env.url("/ws"), "wrong")
	require.NoError(t, err)
	defer c.Close()

	msg := expect(t, c.Conn, protocol.TypeError)
	var e protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, protocol.CodeUnauthorized, e.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Next(ctx)
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, CloseUnauthorized), "got %v", err)

	assert.Equal(t, 0, env.hub.Stats().Consumers)
}

func TestConsumer_PingAndMalformed(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.consumer(t)

	require.NoError(t, c.SendRaw([]byte("not json")))
	msg := expect(t, c.Conn, protocol.TypeError)
	var e protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, protocol.CodeBadRequest, e.Code)

	require.NoError(t, c.Send(protocol.TypeSubscribeSession, protocol.SessionRef{}))
	expect(t, c.Conn, protocol.TypeError)

	require.NoError(t, c.Send("bogus", nil))
	msg = expect(t, c.Conn, protocol.TypeError)
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, protocol.CodeUnknownType, e.Code)

	// Still open
	expectQuiet(t, c)
}

func TestSubscribe_SnapshotThenLive(t *testing.T) {
	env := newTestEnv(t, Config{})
	p := env.producer(t, types.Instance{ID: "inst-1", Name: "laptop"})

	require.NoError(t, p.StartSession(types.Session{ID: "s1", Title: "first"}))
	require.Eventually(t, func() bool { return len(env.reg.ListSessions()) == 1 }, 2*time.Second, 10*time.Millisecond)

	c := env.consumer(t)
	require.NoError(t, c.Subscribe())

	var instances protocol.InstanceListPayload
	require.NoError(t, expect(t, c.Conn, protocol.TypeInstanceList).ParsePayload(&instances))
	require.Len(t, instances.Instances, 1)
	assert.Equal(t, "inst-1", instances.Instances[0].ID)

	var sessions protocol.SessionListPayload
	require.NoError(t, expect(t, c.Conn, protocol.TypeSessionList).ParsePayload(&sessions))
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, "inst-1", sessions.Sessions[0].InstanceID)

	title := "renamed"
	require.NoError(t, p.UpdateSession(types.SessionUpdate{ID: "s1", Title: &title}))

	var s types.Session
	require.NoError(t, expect(t, c.Conn, protocol.TypeSessionUpdate).ParsePayload(&s))
	assert.Equal(t, "renamed", s.Title)

	require.NoError(t, p.Heartbeat())
	expect(t, c.Conn, protocol.TypeInstanceUpdate)

	require.NoError(t, c.Unsubscribe())
	expectQuiet(t, c)
	require.NoError(t, p.EndSession("s1"))
	require.Eventually(t, func() bool {
		s, err := env.reg.GetSession("s1")
		return err == nil && s.Status == types.SessionStatusIdle
	}, 2*time.Second, 10*time.Millisecond)
	expectQuiet(t, c)
}

func TestSubscriptionIsolation(t *testing.T) {
	env := newTestEnv(t, Config{})
	p := env.producer(t, types.Instance{ID: "inst-1"})

	a := env.consumer(t)
	b := env.consumer(t)
	require.NoError(t, a.SubscribeSession("s1"))
	require.NoError(t, b.SubscribeSession("s2"))
	expect(t, a.Conn, protocol.TypeTranscriptHistory)
	expect(t, b.Conn, protocol.TypeTranscriptHistory)

	require.NoError(t, p.SendEvent(types.TranscriptEventInput{
		SessionID: "s1",
		Type:      types.EventTypeMessage,
		Payload:   json.RawMessage(`{"text":"hello"}`),
	}))

	var ev types.TranscriptEvent
	require.NoError(t, expect(t, a.Conn, protocol.TypeTranscriptEvent).ParsePayload(&ev))
	assert.Equal(t, "s1", ev.SessionID)
	assert.JSONEq(t, `{"text":"hello"}`, string(ev.Payload))

	require.Eventually(t, func() bool { return len(env.reg.TranscriptEvents("s1", "")) == 1 }, 2*time.Second, 10*time.Millisecond)
	expectQuiet(t, b)
}

func TestSubscribeSession_ReplaysHistory(t *testing.T) {
	env := newTestEnv(t, Config{})
	p := env.producer(t, types.Instance{ID: "inst-1"})

	for i := 0; i < 3; i++ {
		require.NoError(t, p.SendEvent(types.TranscriptEventInput{SessionID: "s1", Type: types.EventTypeDelta}))
	}
	require.Eventually(t, func() bool { return len(env.reg.TranscriptEvents("s1", "")) == 3 }, 2*time.Second, 10*time.Millisecond)

	c := env.consumer(t)
	require.NoError(t, c.SubscribeSession("s1"))

	var history protocol.TranscriptHistoryPayload
	require.NoError(t, expect(t, c.Conn, protocol.TypeTranscriptHistory).ParsePayload(&history))
	assert.Equal(t, "s1", history.SessionID)
	assert.Len(t, history.Events, 3)

	require.NoError(t, p.SendEvent(types.TranscriptEventInput{SessionID: "s1", Type: types.EventTypeDelta}))
	expect(t, c.Conn, protocol.TypeTranscriptEvent)

	require.NoError(t, c.UnsubscribeSession("s1"))
	expectQuiet(t, c)
}

func TestControl_Correlation(t *testing.T) {
	env := newTestEnv(t, Config{})
	p := env.producer(t, types.Instance{ID: "inst-1"})
	c := env.consumer(t)

	require.NoError(t, c.Request(protocol.ActionCreateSession, "inst-1", "req-1", []byte(`{"prompt":"hi"}`)))

	cmdMsg := expect(t, p.Conn, protocol.ActionCreateSession.CommandType())
	var cmd protocol.Command
	require.NoError(t, cmdMsg.ParsePayload(&cmd))
	assert.Equal(t, "req-1", cmd.RequestID)
	assert.JSONEq(t, `{"prompt":"hi"}`, string(cmd.Params))
	assert.Equal(t, 1, env.hub.Stats().Pending)

	require.NoError(t, p.Reply(protocol.ActionCreateSession, protocol.ControlResult{
		RequestID: "req-1",
		Success:   true,
		Result:    json.RawMessage(`{"sessionId":"s9"}`),
	}))

	result := expectResult(t, c.Conn, protocol.ActionCreateSession)
	assert.Equal(t, "req-1", result.RequestID)
	assert.True(t, result.Success)
	assert.JSONEq(t, `{"sessionId":"s9"}`, string(result.Result))
	assert.Equal(t, 0, env.hub.Stats().Pending)

	// A second reply for the same request is dropped
	require.NoError(t, p.Reply(protocol.ActionCreateSession, protocol.ControlResult{RequestID: "req-1", Success: true}))
	require.NoError(t, p.Heartbeat())
	require.Eventually(t, func() bool { return env.hub.Stats().Pending == 0 }, time.Second, 10*time.Millisecond)
	expectQuiet(t, c)
}

func TestControl_TimeoutThenLateReply(t *testing.T) {
	env := newTestEnv(t, Config{RequestTimeout: 50 * time.Millisecond, SweepInterval: 10 * time.Millisecond})
	p := env.producer(t, types.Instance{ID: "inst-1"})
	c := env.consumer(t)

	require.NoError(t, c.Request(protocol.ActionStopSession, "inst-1", "req-slow", nil))
	expect(t, p.Conn, protocol.ActionStopSession.CommandType())

	result := expectResult(t, c.Conn, protocol.ActionStopSession)
	assert.Equal(t, "req-slow", result.RequestID)
	assert.False(t, result.Success)
	assert.Equal(t, protocol.ErrMsgTimeout, result.Error)
	assert.Equal(t, 0, env.hub.Stats().Pending)

	require.NoError(t, p.Reply(protocol.ActionStopSession, protocol.ControlResult{RequestID: "req-slow", Success: true}))
	expectQuiet(t, c)
}

func TestControl_TargetUnavailable(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.consumer(t)

	require.NoError(t, c.Request(protocol.ActionListModels, "ghost", "req-1", nil))

	result := expectResult(t, c.Conn, protocol.ActionListModels)
	assert.False(t, result.Success)
	assert.Equal(t, protocol.ErrMsgTargetUnavailable, result.Error)
	assert.Equal(t, 0, env.hub.Stats().Pending)
}

func TestControl_SendMessageDisabled(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.producer(t, types.Instance{ID: "inst-1"})
	c := env.consumer(t)

	require.NoError(t, c.Request(protocol.ActionSendMessage, "inst-1", "req-1", []byte(`{"text":"hi"}`)))

	result := expectResult(t, c.Conn, protocol.ActionSendMessage)
	assert.False(t, result.Success)
	assert.Equal(t, protocol.ErrMsgSendDisabled, result.Error)
	assert.Equal(t, 0, env.hub.Stats().Pending)
}

func TestControl_MissingRequestID(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.consumer(t)

	require.NoError(t, c.Request(protocol.ActionCreateSession, "inst-1", "", nil))
	expect(t, c.Conn, protocol.TypeError)
}

func TestProducer_DisconnectIdlesSessions(t *testing.T) {
	env := newTestEnv(t, Config{})
	p := env.producer(t, types.Instance{ID: "inst-1"})

	require.NoError(t, p.StartSession(types.Session{ID: "s1"}))
	require.NoError(t, p.StartSession(types.Session{ID: "s2"}))
	require.Eventually(t, func() bool { return len(env.reg.ListSessions()) == 2 }, 2*time.Second, 10*time.Millisecond)

	c := env.consumer(t)
	require.NoError(t, c.Subscribe())
	expect(t, c.Conn, protocol.TypeInstanceList)
	expect(t, c.Conn, protocol.TypeSessionList)

	require.NoError(t, p.Close())

	idle := 0
	for {
		msg := next(t, c.Conn)
		if msg.Type == protocol.TypeInstanceDisconnect {
			var ref protocol.InstanceRef
			require.NoError(t, msg.ParsePayload(&ref))
			assert.Equal(t, "inst-1", ref.InstanceID)
			break
		}
		require.Equal(t, protocol.TypeSessionUpdate, msg.Type)
		var s types.Session
		require.NoError(t, msg.ParsePayload(&s))
		assert.Equal(t, types.SessionStatusIdle, s.Status)
		idle++
	}
	assert.Equal(t, 2, idle)

	_, err := env.reg.GetInstance("inst-1")
	assert.ErrorIs(t, err, registry.ErrInstanceNotFound)
}

func TestProducer_MustRegisterFirst(t *testing.T) {
	env := newTestEnv(t, Config{})

	p, err := client.DialProducer(context.Background(), env.url("/producer"))
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Heartbeat())
	msg := expect(t, p.Conn, protocol.TypeError)
	var e protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, protocol.CodeNotRegistered, e.Code)
}

func TestProducer_Supersede(t *testing.T) {
	env := newTestEnv(t, Config{})
	first := env.producer(t, types.Instance{ID: "inst-1", Name: "old"})
	env.producer(t, types.Instance{ID: "inst-1", Name: "new"})

	// The first connection is closed by the hub
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		if _, err := first.Next(ctx); err != nil {
			break
		}
	}

	require.Eventually(t, func() bool { return env.hub.Stats().Producers == 1 }, 2*time.Second, 10*time.Millisecond)
	inst, err := env.reg.GetInstance("inst-1")
	require.NoError(t, err)
	assert.Equal(t, "new", inst.Name)
}

func TestProducer_BoundBeforeAnnounced(t *testing.T) {
	env := newTestEnv(t, Config{})

	bound := make(chan bool, 1)
	env.reg.OnInstanceChange(func(change registry.InstanceChange) {
		if change.Kind != registry.InstanceUpdated {
			return
		}
		env.hub.mu.Lock()
		_, ok := env.hub.producers[change.Instance.ID]
		env.hub.mu.Unlock()
		select {
		case bound <- ok:
		default:
		}
	})

	env.producer(t, types.Instance{ID: "inst-1"})

	select {
	case ok := <-bound:
		assert.True(t, ok, "instance announced before its producer was reachable")
	case <-time.After(2 * time.Second):
		t.Fatal("no instance update")
	}

	// An instance without an ID gets one from the hub and is bound under it
	p, err := client.DialProducer(context.Background(), env.url("/producer"))
	require.NoError(t, err)
	defer p.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := p.Register(ctx, types.Instance{Name: "anonymous"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	env.hub.mu.Lock()
	_, ok := env.hub.producers[id]
	env.hub.mu.Unlock()
	assert.True(t, ok)
}

func TestProducer_SessionOwnership(t *testing.T) {
	env := newTestEnv(t, Config{})
	p := env.producer(t, types.Instance{ID: "inst-1"})

	require.NoError(t, p.StartSession(types.Session{ID: "s1", InstanceID: "someone-else"}))
	require.Eventually(t, func() bool {
		s, err := env.reg.GetSession("s1")
		return err == nil && s.InstanceID == "inst-1"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, p.EndSession("unknown"))
	msg := expect(t, p.Conn, protocol.TypeError)
	var e protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&e))
	assert.Equal(t, protocol.CodeNotFound, e.Code)
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:5000", true},
		{"[::1]:5000", true},
		{"127.0.0.1", true},
		{"10.0.0.2:5000", false},
		{"192.168.1.20:80", false},
		{"garbage", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, isLoopback(tt.addr))
		})
	}
}

func TestServeProducer_RejectsRemote(t *testing.T) {
	env := newTestEnv(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/producer", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	rec := httptest.NewRecorder()
	env.hub.ServeProducer(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	assert.Equal(t, "abc", TokenFromRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "xyz", TokenFromRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Empty(t, TokenFromRequest(req))
}
