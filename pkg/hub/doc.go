/*
Package hub manages the WebSocket connections of producers and consumers.

Producers are the agents reporting activity. They connect from loopback,
register an instance, and then stream heartbeats, session lifecycle changes
and transcript events into the registry. When a producer disconnects its
instance is removed and its active sessions go idle.

Consumers are dashboards. They authenticate with a token, then opt in to the
global instance and session stream and to individual session transcripts.
Each subscription starts with a snapshot sent to that consumer alone,
followed by live updates with no gap in between.

# Fan-out

	registry change ──► hub listener ──► every matching consumer
	                                        │
	                                   SafeSend (non-blocking)

A full or closed consumer queue drops the message for that consumer only.

# Remote Control

A consumer request naming an instance is forwarded to that instance's
producer and tracked as pending until the producer replies or the request
times out. Exactly one result reaches the consumer:

	reply arrives first   result forwarded, pending record deleted
	timeout fires first   "request timed out", later reply dropped
	no producer           "target instance not connected" immediately
*/
package hub
