/*
Package types defines the core data model shared by every agenthub component.

The types package holds plain data structures with JSON tags. They are used
by the registry as in-memory state, by the storage package as the on-disk
record format, and by the hub as message payloads.

# Entities

	┌──────────────────── DATA MODEL ───────────────────────────┐
	│                                                            │
	│  Instance (ephemeral)                                      │
	│    - one connected producer process                        │
	│    - created on register, dropped on disconnect            │
	│          │ 1                                               │
	│          │                                                 │
	│          ▼ n                                               │
	│  Session (durable)                                         │
	│    - active / idle / error                                 │
	│    - reactivated, never deleted                            │
	│          │ 1                                               │
	│          │                                                 │
	│          ▼ n                                               │
	│  TranscriptEvent (durable, append-only)                    │
	│    - message, delta, tool_start, tool_end, status          │
	│    - optional SourceID for deduplication                   │
	│                                                            │
	│  PendingRequest (hub-owned, short-lived)                   │
	│    - remote-control correlation record                     │
	└────────────────────────────────────────────────────────┘

# Ownership

Instances, sessions and transcript events belong to the registry. Pending
requests belong to the hub. Values handed out by the registry are copies and
may be read freely; mutating them has no effect on registry state.

# Partial Updates

SessionUpdate uses pointer fields so that a producer can change a single
attribute without resending the whole session:

	status := types.SessionStatusError
	update := types.SessionUpdate{ID: "sess-1", Status: &status}
	update.Apply(session)

Metadata merges field by field: zero values in the update keep the current
value.
*/
package types
