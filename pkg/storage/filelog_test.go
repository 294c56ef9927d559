package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/agenthub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *FileLog {
	t.Helper()
	fl, err := NewFileLog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fl.Close() })
	return fl
}

func TestNewFileLog(t *testing.T) {
	dir := t.TempDir()

	fl, err := NewFileLog(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, fl.Dir())

	info, err := os.Stat(filepath.Join(dir, transcriptsDir))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoadSessions_Replay(t *testing.T) {
	fl := newTestLog(t)
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	title := "renamed"
	errStatus := types.SessionStatusError

	records := []SessionRecord{
		{Op: SessionOpStart, Timestamp: t0, SessionID: "a", Session: &types.Session{
			ID: "a", InstanceID: "i1", Title: "first", Status: types.SessionStatusActive, CreatedAt: t0, UpdatedAt: t0,
		}},
		{Op: SessionOpStart, Timestamp: t0, SessionID: "b", Session: &types.Session{
			ID: "b", InstanceID: "i1", Status: types.SessionStatusActive, CreatedAt: t0, UpdatedAt: t0,
		}},
		{Op: SessionOpUpdate, Timestamp: t0.Add(time.Second), SessionID: "a", Update: &types.SessionUpdate{
			ID: "a", Title: &title, Metadata: &types.SessionMetadata{Model: "m1"},
		}},
		{Op: SessionOpUpdate, Timestamp: t0.Add(2 * time.Second), SessionID: "b", Update: &types.SessionUpdate{
			ID: "b", Status: &errStatus,
		}},
		{Op: SessionOpEnd, Timestamp: t0.Add(3 * time.Second), SessionID: "a"},
		// update for a session that was never started is ignored
		{Op: SessionOpUpdate, Timestamp: t0, SessionID: "ghost", Update: &types.SessionUpdate{ID: "ghost", Title: &title}},
	}
	for _, rec := range records {
		require.NoError(t, fl.AppendSessionRecord(rec))
	}

	sessions, err := fl.LoadSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	a := sessions["a"]
	assert.Equal(t, "renamed", a.Title)
	assert.Equal(t, types.SessionStatusIdle, a.Status)
	assert.Equal(t, "m1", a.Metadata.Model)
	assert.True(t, a.UpdatedAt.Equal(t0.Add(3*time.Second)))

	b := sessions["b"]
	assert.Equal(t, types.SessionStatusError, b.Status)
}

func TestLoadSessions_MissingFile(t *testing.T) {
	fl := newTestLog(t)

	sessions, err := fl.LoadSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestLoadTranscript_SkipsCorruptLines(t *testing.T) {
	fl := newTestLog(t)

	for i, id := range []string{"e1", "e2"} {
		require.NoError(t, fl.AppendTranscriptEvent(&types.TranscriptEvent{
			ID:        id,
			SessionID: "s/1",
			Type:      types.EventTypeMessage,
			Timestamp: time.Unix(int64(i), 0).UTC(),
			Payload:   json.RawMessage(`{"n":1}`),
		}))
	}

	// Simulate a torn write in the middle and at the tail
	path := fl.transcriptPath("s/1")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"id\":\"broken\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fl.AppendTranscriptEvent(&types.TranscriptEvent{
		ID: "e3", SessionID: "s/1", Type: types.EventTypeDelta, Timestamp: time.Unix(3, 0).UTC(),
	}))

	f, err = os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"e4","sessionId":"s/1","ty`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := fl.LoadTranscript("s/1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)
	assert.Equal(t, "e3", events[2].ID)
	assert.JSONEq(t, `{"n":1}`, string(events[0].Payload))
}

func TestLoadAllTranscripts(t *testing.T) {
	fl := newTestLog(t)

	sessions := map[string]int{"alpha": 2, "beta/with/slashes": 3, "gamma": 1}
	for sid, n := range sessions {
		for i := 0; i < n; i++ {
			require.NoError(t, fl.AppendTranscriptEvent(&types.TranscriptEvent{
				ID: sid + "-" + string(rune('a'+i)), SessionID: sid, Type: types.EventTypeMessage,
			}))
		}
	}

	all, err := fl.LoadAllTranscripts()
	require.NoError(t, err)
	require.Len(t, all, len(sessions))
	for sid, n := range sessions {
		assert.Len(t, all[sid], n, "session %s", sid)
	}
}

func TestAppendTranscriptEvent_RequiresSession(t *testing.T) {
	fl := newTestLog(t)

	err := fl.AppendTranscriptEvent(&types.TranscriptEvent{ID: "x"})
	assert.Error(t, err)
}

func TestAppend_ReusesHandle(t *testing.T) {
	fl := newTestLog(t)

	for i := 0; i < 50; i++ {
		require.NoError(t, fl.AppendTranscriptEvent(&types.TranscriptEvent{
			ID:        fmt.Sprintf("e%d", i),
			SessionID: "s1",
			Type:      types.EventTypeDelta,
		}))
	}

	fl.mu.Lock()
	require.Len(t, fl.files, 1)
	af := fl.files[fl.transcriptPath("s1")]
	fl.mu.Unlock()
	require.NotNil(t, af)
	assert.NotNil(t, af.f)

	events, err := fl.LoadTranscript("s1")
	require.NoError(t, err)
	require.Len(t, events, 50)
	assert.Equal(t, "e49", events[49].ID)
}

func TestAppend_EvictsLeastRecentlyUsed(t *testing.T) {
	fl := newTestLog(t)

	const sessions = maxOpenFiles + 5
	for i := 0; i < sessions; i++ {
		require.NoError(t, fl.AppendTranscriptEvent(&types.TranscriptEvent{
			ID:        "first",
			SessionID: fmt.Sprintf("s%d", i),
		}))
	}

	fl.mu.Lock()
	assert.Len(t, fl.files, maxOpenFiles)
	_, cached := fl.files[fl.transcriptPath("s0")]
	fl.mu.Unlock()
	assert.False(t, cached)

	// An evicted file is reopened and appended to
	require.NoError(t, fl.AppendTranscriptEvent(&types.TranscriptEvent{ID: "second", SessionID: "s0"}))
	events, err := fl.LoadTranscript("s0")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "second", events[1].ID)

	all, err := fl.LoadAllTranscripts()
	require.NoError(t, err)
	assert.Len(t, all, sessions)
}

func TestClose_RejectsAppends(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLog(dir)
	require.NoError(t, err)

	require.NoError(t, fl.AppendSessionRecord(SessionRecord{
		Op:        SessionOpStart,
		SessionID: "s1",
		Session:   &types.Session{ID: "s1", Status: types.SessionStatusActive},
	}))
	require.NoError(t, fl.Close())

	err = fl.AppendSessionRecord(SessionRecord{Op: SessionOpEnd, SessionID: "s1"})
	assert.ErrorIs(t, err, ErrLogClosed)

	sessions, err := fl.LoadSessions()
	require.NoError(t, err)
	assert.Contains(t, sessions, "s1")
}
