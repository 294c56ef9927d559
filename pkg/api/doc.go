/*
Package api serves agenthub over HTTP.

One listener carries every endpoint:

	GET /ws                              consumer WebSocket (token required)
	GET /producer                        producer WebSocket (loopback only)
	GET /api/instances                   connected instances
	GET /api/instances/{id}              one instance
	GET /api/instances/{id}/sessions     sessions owned by an instance
	GET /api/sessions                    all known sessions
	GET /api/sessions/{id}?after=<id>    one session with its transcript
	GET /health                          component health plus counts
	GET /ready                           readiness probe
	GET /live                            liveness probe
	GET /metrics                         Prometheus metrics

The /api routes accept the same token as consumer connections, either as a
"token" query parameter or a bearer Authorization header, and reject any
method other than GET and HEAD.

The after cursor returns the events following the named event. If that event
has already been evicted from memory the whole retained transcript is
returned, so clients can always resynchronize.
*/
package api
