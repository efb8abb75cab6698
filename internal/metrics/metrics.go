// Package metrics defines Prometheus metrics for the queuecall server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queuecall_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuecall_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuecall_errors_total",
			Help: "Total errors by type",
		},
		[]string{"type"},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queuecall_websocket_connections",
			Help: "Active WebSocket connections",
		},
	)

	Sessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queuecall_sessions",
			Help: "Joined sessions by role",
		},
		[]string{"role"},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuecall_commands_total",
			Help: "Counter commands by action and reply status",
		},
		[]string{"action", "status"},
	)

	FanoutMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuecall_fanout_messages_total",
			Help: "Messages delivered to sessions by role",
		},
		[]string{"role"},
	)

	FanoutDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queuecall_fanout_dropped_total",
			Help: "Messages dropped because a session could not keep up",
		},
	)

	RelayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuecall_relay_messages_total",
			Help: "Changes exchanged over the cross-instance relay",
		},
		[]string{"direction"},
	)

	ActiveCounters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queuecall_active_counters",
			Help: "Counters with a running command loop",
		},
	)

	RatingQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queuecall_rating_queue_depth",
			Help: "Ratings waiting to be stored",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal, ErrorsTotal,
		WSConnections, Sessions, CommandsTotal,
		FanoutMessages, FanoutDropped, RelayMessages,
		ActiveCounters, RatingQueueDepth,
	)
}
