/*
Package storage provides durable persistence for agenthub.

Two stores live here. FileLog is the append-only history of sessions and
transcript events that the registry replays on startup. BoltStore keeps
consumer access tokens in a small BoltDB file.

# Architecture

	┌──────────────────── DURABLE LOG ─────────────────────────┐
	│                                                            │
	│  <dataDir>/sessions.jsonl                                 │
	│    {"op":"start","ts":...,"session":{...}}                │
	│    {"op":"update","ts":...,"update":{...}}                │
	│    {"op":"end","ts":...,"sessionId":"..."}                │
	│                                                            │
	│  <dataDir>/transcripts/<session-id>.jsonl                 │
	│    {"id":"...","sessionId":"...","type":"message",...}    │
	│    {"id":"...","sessionId":"...","type":"delta",...}      │
	│                                                            │
	│  - one JSON record per line                               │
	│  - one write() per record, O_APPEND                       │
	│  - never truncated, never rewritten                       │
	└────────────────────────────────────────────────────────┘

	┌──────────────────── TOKEN STORE ─────────────────────────┐
	│  <dataDir>/tokens.db (bbolt)                              │
	│    bucket "tokens": secret → AccessToken (JSON)           │
	└────────────────────────────────────────────────────────┘

Session lifecycle records share one file because replaying sessions always
needs all of them. Transcripts are split per session so that loading one
session's history costs only that session's own events.

# Crash Tolerance

Each record is written with a single write call on a file opened with
O_APPEND, so an interrupted write can only damage the final line. Loaders
skip any line that does not parse and keep going; prior records are never
invalidated by a torn tail.

# Replay Semantics

LoadSessions applies records in file order:

	start   create or replace the session with the recorded value
	update  merge the recorded partial fields, set UpdatedAt
	end     force status to idle, set UpdatedAt

Session IDs are path-escaped to form transcript file names, and unescaped
again by LoadAllTranscripts when discovering sessions on disk.

# Usage

	fl, err := storage.NewFileLog("/var/lib/agenthub")
	if err != nil {
		return err
	}

	err = fl.AppendTranscriptEvent(&types.TranscriptEvent{
		ID:        uuid.NewString(),
		SessionID: "sess-1",
		Type:      types.EventTypeMessage,
		Timestamp: time.Now().UTC(),
	})

	sessions, err := fl.LoadSessions()
	events, err := fl.LoadTranscript("sess-1")
*/
package storage
