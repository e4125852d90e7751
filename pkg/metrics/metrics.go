// Package metrics registers the Prometheus collectors exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts API requests by method, route, and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_http_requests_total",
		Help: "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration observes request latency by route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pulse_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// QueriesExecutedTotal counts query executions by kind and outcome.
	// Outcome is one of success, error, cached.
	QueriesExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_queries_executed_total",
		Help: "Total query executions",
	}, []string{"kind", "outcome"})

	// QueryDuration observes source-side execution latency by query kind.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pulse_query_duration_seconds",
		Help:    "Query execution latency against the data source",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})

	// DatasetRefreshTotal counts dataset materializations by outcome.
	DatasetRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_dataset_refresh_total",
		Help: "Total dataset refreshes",
	}, []string{"outcome"})

	// ScheduleExecutionTotal counts schedule runs by terminal state.
	ScheduleExecutionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_schedule_execution_total",
		Help: "Total schedule executions by terminal state",
	}, []string{"state"})

	// RealtimeConnections tracks currently open websocket connections.
	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_realtime_connections",
		Help: "Open realtime websocket connections",
	})

	// RealtimeMessagesDropped counts messages dropped under backpressure.
	RealtimeMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_realtime_messages_dropped_total",
		Help: "Realtime messages dropped because a client buffer was full",
	})
)
