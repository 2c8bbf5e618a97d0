// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// DialogueStreamDuration tracks how long backend dialogue streams stay open.
	DialogueStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dialogue_stream_duration_seconds",
			Help:    "Backend dialogue stream duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120, 300},
		},
		[]string{"outcome"},
	)

	// DialogueStreamsActive tracks backend dialogue streams currently being read.
	DialogueStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dialogue_streams_active",
			Help: "Number of backend dialogue streams being consumed",
		},
	)

	// FramesTotal tracks decoded event-stream frames.
	FramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialogue_frames_total",
			Help: "Total event-stream frames decoded",
		},
	)

	// FramesDroppedTotal tracks frames dropped by the decoder or reducer.
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialogue_frames_dropped_total",
			Help: "Total frames or events dropped",
		},
		[]string{"reason"},
	)

	// EventsTotal tracks typed dialogue events by type.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialogue_events_total",
			Help: "Total dialogue events decoded",
		},
		[]string{"type"},
	)

	// TokensTotal tracks streamed token fragments applied to messages.
	TokensTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialogue_tokens_total",
			Help: "Total token fragments applied to messages",
		},
	)

	// SSEConnectionsActive tracks active SSE relay connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ScenesTotal tracks scenes started.
	ScenesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenes_total",
			Help: "Total scenes started",
		},
		[]string{"result"},
	)

	// JournalPublishTotal tracks events published to the journal.
	JournalPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_publish_total",
			Help: "Total dialogue events published to the journal",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStream records the outcome of a backend dialogue stream.
func RecordStream(outcome string, duration float64) {
	DialogueStreamDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordDrop records a dropped frame or event.
func RecordDrop(reason string) {
	FramesDroppedTotal.WithLabelValues(reason).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
