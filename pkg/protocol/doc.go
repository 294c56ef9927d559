/*
Package protocol defines the JSON messages exchanged between the hub, its
producers and its consumers.

Every WebSocket text frame carries one envelope:

	{"type": "session_update", "payload": {...}}

Remote-control actions follow a naming scheme. A consumer sends the bare
action name, the hub forwards "command_<action>" to the producer, and the
producer's "<action>_result" is relayed back to the consumer unchanged:

	consumer                hub                     producer
	   │ create_session ──►  │                          │
	   │                     │ command_create_session ─►│
	   │                     │◄─ create_session_result  │
	   │◄─ create_session_result                        │

send_message is recognized but never forwarded; it always fails.
*/
package protocol
