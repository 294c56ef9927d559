package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	InstancesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agenthub_instances_total",
			Help: "Number of registered producer instances",
		},
	)

	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agenthub_sessions_total",
			Help: "Number of known sessions by status",
		},
		[]string{"status"},
	)

	TranscriptEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_transcript_events_total",
			Help: "Transcript event submissions by outcome (accepted, duplicate)",
		},
		[]string{"outcome"},
	)

	TranscriptEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agenthub_transcript_evictions_total",
			Help: "Transcript events evicted from the in-memory window",
		},
	)

	PersistenceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_persistence_failures_total",
			Help: "Durable log append failures by record kind",
		},
		[]string{"kind"},
	)

	ReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agenthub_replay_duration_seconds",
			Help:    "Time taken to replay the durable log on startup",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Hub metrics
	ConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agenthub_connections_active",
			Help: "Open connections by role (producer, consumer)",
		},
		[]string{"role"},
	)

	AuthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agenthub_auth_failures_total",
			Help: "Consumer connections rejected for an invalid token",
		},
	)

	MessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_messages_received_total",
			Help: "Messages received by role and type",
		},
		[]string{"role", "type"},
	)

	MessagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_messages_dropped_total",
			Help: "Outbound messages dropped because the connection was gone or full",
		},
		[]string{"role"},
	)

	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_broadcasts_total",
			Help: "Broadcast messages by type",
		},
		[]string{"type"},
	)

	PendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agenthub_pending_requests",
			Help: "Remote-control requests awaiting a producer reply",
		},
	)

	ControlRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_control_requests_total",
			Help: "Remote-control requests by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	ControlRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agenthub_control_request_duration_seconds",
			Help:    "Time from forwarding a control command to its reply",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(TranscriptEventsTotal)
	prometheus.MustRegister(TranscriptEvictionsTotal)
	prometheus.MustRegister(PersistenceFailuresTotal)
	prometheus.MustRegister(ReplayDuration)
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(AuthFailuresTotal)
	prometheus.MustRegister(MessagesReceivedTotal)
	prometheus.MustRegister(MessagesDroppedTotal)
	prometheus.MustRegister(BroadcastsTotal)
	prometheus.MustRegister(PendingRequests)
	prometheus.MustRegister(ControlRequestsTotal)
	prometheus.MustRegister(ControlRequestDuration)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed seconds on a labelled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
