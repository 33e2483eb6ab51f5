// Package metrics defines Prometheus metrics for the CRM server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_errors_total",
			Help: "Total errors by type",
		},
		[]string{"type"},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crm_websocket_connections",
			Help: "Active WebSocket connections",
		},
	)

	EventQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crm_event_queue_depth",
			Help: "Mutation events waiting for fan-out",
		},
	)

	EventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_events_dispatched_total",
			Help: "Mutation events delivered to a transport, by audience tier",
		},
		[]string{"tier"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_events_dropped_total",
			Help: "Mutation events that were not delivered, by reason",
		},
		[]string{"reason"},
	)

	VersionConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_version_conflicts_total",
			Help: "Versioned writes rejected because the row changed",
		},
		[]string{"resource"},
	)

	ScopeRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_scope_rejections_total",
			Help: "Requests rejected during scope resolution, by error kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal, ErrorsTotal,
		WSConnections, EventQueueDepth,
		EventsDispatched, EventsDropped,
		VersionConflicts, ScopeRejections,
	)
}
