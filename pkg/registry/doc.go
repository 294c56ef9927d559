/*
Package registry owns the authoritative state of the hub: connected producer
instances, their sessions, and each session's transcript.

All operations are serialized by a single mutex. A mutation, its durable log
append, and the notification of listeners happen inside one critical section,
so listeners observe changes in exactly the order they were applied.

	producer msg ──► Registry ──► storage.Log (append)
	                    │
	                    └──► listeners (hub fan-out)

Instances live in memory only and disappear when their producer disconnects.
Sessions and transcript events are durable: New replays the log before
returning, rebuilding sessions, the newest MaxTranscriptEvents events per
session, and the set of seen source IDs used to drop resubmitted events.

Listeners run synchronously while the registry lock is held. They must not
call back into the Registry; SnapshotState and SnapshotTranscript exist for
code that needs a consistent read alongside its subscription.
*/
package registry
