/*
Package events provides ordered, synchronous change notification for agenthub.

The registry publishes every committed mutation through a Listeners list.
Unlike a queued broker, handlers run on the publishing goroutine, in
registration order, before the mutating call returns. Persistence and
broadcast therefore always observe exactly the state that was just
committed.

# Event Flow

	Registry mutation (under registry lock)
	       │
	       ▼
	Listeners.Publish(change)
	       │
	       ├──▶ handler #1 (e.g. hub fan-out)
	       ├──▶ handler #2 (e.g. metrics)
	       └──▶ handler #n
	             (a panic is recovered and logged; #n+1 still runs)

# Usage

	changes := events.NewListeners[*types.Session]("session")
	unsubscribe := changes.Subscribe(func(s *types.Session) {
		fmt.Println(s.ID, s.Status)
	})
	defer unsubscribe()

	changes.Publish(session)

Handlers must not block and must not call back into the publisher.
*/
package events
