/*
Package metrics provides Prometheus metrics and component health for agenthub.

All collectors are registered on the default Prometheus registry at package
init and exposed through Handler at /metrics. Registry metrics cover
instance/session counts, transcript submissions (accepted vs. duplicate),
in-memory evictions and durable log failures. Hub metrics cover open
connections per role, received and dropped messages, broadcasts, and the
remote-control round trip (pending gauge, outcome counter, latency
histogram).

The health checker tracks named components. GetHealth reports unhealthy if
any component is; GetReadiness additionally requires every critical
component (registry, hub, api by default) to be registered.
*/
package metrics
