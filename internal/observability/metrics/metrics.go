// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_coach"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Channel metrics
	SocketsTotal   prometheus.Counter
	SocketsActive  prometheus.Gauge
	SocketDuration prometheus.Histogram
	EventsInbound  *prometheus.CounterVec
	EventsErrors   *prometheus.CounterVec
	BackboneMode   *prometheus.GaugeVec

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	AudioChunksInvalid  prometheus.Counter
	AudioChunksOversize prometheus.Counter

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	TranscriptsEmpty   prometheus.Counter
	FeedbackEmitted    prometheus.Counter
	NormalizerDecision *prometheus.CounterVec

	// Provider metrics
	ProviderConnectionsActive prometheus.Gauge
	ProviderConnectionsOpened *prometheus.CounterVec
	ProviderConnectFailures   *prometheus.CounterVec
	ProviderTimeouts          *prometheus.CounterVec
	ProviderErrors            *prometheus.CounterVec
	ProviderResultsDropped    prometheus.Counter
	SubmitLatency             *prometheus.HistogramVec

	// Session metrics
	SessionTransitions *prometheus.CounterVec
	SessionConflicts   prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Admin RPC metrics
	AdminCalls *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SocketsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sockets_total",
			Help:      "Total number of channel sockets opened",
		}),
		SocketsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sockets_active",
			Help:      "Number of currently connected channel sockets",
		}),
		SocketDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "socket_duration_seconds",
			Help:      "Lifetime of channel sockets in seconds",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800, 3600},
		}),
		EventsInbound: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_events_total",
			Help:      "Inbound channel events by name",
		}, []string{"event"}),
		EventsErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_error_events_total",
			Help:      "Error events emitted to sockets by name",
		}, []string{"event"}),
		BackboneMode: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backbone_mode",
			Help:      "Active fan-out backbone (1 for the selected mode)",
		}, []string{"mode"}),

		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio chunks received",
		}),
		AudioChunksInvalid: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_invalid_total",
			Help:      "Audio chunks rejected by validation",
		}),
		AudioChunksOversize: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_oversize_total",
			Help:      "Audio chunks above the warning threshold",
		}),

		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of interim transcripts broadcast",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts broadcast",
		}),
		TranscriptsEmpty: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_empty_total",
			Help:      "Submits that resolved without transcript text",
		}),
		FeedbackEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_emitted_total",
			Help:      "Feedback updates emitted for qualifying finals",
		}),
		NormalizerDecision: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalizer_decisions_total",
			Help:      "Normalizer accept/reject decisions",
		}, []string{"kind", "decision"}),

		ProviderConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_connections_active",
			Help:      "Open live provider connections",
		}),
		ProviderConnectionsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_connections_opened_total",
			Help:      "Live provider connections opened",
		}, []string{"provider"}),
		ProviderConnectFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_connect_failures_total",
			Help:      "Failed attempts to open a live provider connection",
		}, []string{"provider"}),
		ProviderTimeouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_result_timeouts_total",
			Help:      "Submits that resolved with the empty placeholder",
		}, []string{"provider"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by type",
		}, []string{"provider", "error_type"}),
		ProviderResultsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_results_dropped_total",
			Help:      "Provider results dropped on a full result buffer",
		}),
		SubmitLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_latency_seconds",
			Help:      "Time from chunk submit to result",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"provider", "type"}),

		SessionTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session status transitions",
		}, []string{"to"}),
		SessionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_version_conflicts_total",
			Help:      "Optimistic lock conflicts on session writes",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		AdminCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_rpc_calls_total",
			Help:      "Admin gRPC calls by method and code",
		}, []string{"method", "code"}),
	}
}

// RecordSocketOpen records a new channel socket.
func (m *Metrics) RecordSocketOpen() {
	m.SocketsTotal.Inc()
	m.SocketsActive.Inc()
}

// RecordSocketClose records a channel socket going away.
func (m *Metrics) RecordSocketClose(durationSeconds float64) {
	m.SocketsActive.Dec()
	m.SocketDuration.Observe(durationSeconds)
}

// RecordInboundEvent counts an inbound channel event.
func (m *Metrics) RecordInboundEvent(event string) {
	m.EventsInbound.WithLabelValues(event).Inc()
}

// RecordErrorEvent counts an *-error event sent to a socket.
func (m *Metrics) RecordErrorEvent(event string) {
	m.EventsErrors.WithLabelValues(event).Inc()
}

// RecordBackboneMode marks the active fan-out mode.
func (m *Metrics) RecordBackboneMode(mode string) {
	m.BackboneMode.Reset()
	m.BackboneMode.WithLabelValues(mode).Set(1)
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordInvalidChunk records a rejected audio chunk.
func (m *Metrics) RecordInvalidChunk() {
	m.AudioChunksInvalid.Inc()
}

// RecordOversizeChunk records an audio chunk above the warning size.
func (m *Metrics) RecordOversizeChunk() {
	m.AudioChunksOversize.Inc()
}

// RecordPartialTranscript records an interim transcript broadcast.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final transcript broadcast.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordEmptyResult records a submit that produced no text.
func (m *Metrics) RecordEmptyResult() {
	m.TranscriptsEmpty.Inc()
}

// RecordFeedback records a feedback-update emission.
func (m *Metrics) RecordFeedback() {
	m.FeedbackEmitted.Inc()
}

// RecordNormalizer records one normalizer decision.
func (m *Metrics) RecordNormalizer(final, accepted bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	decision := "rejected"
	if accepted {
		decision = "accepted"
	}
	m.NormalizerDecision.WithLabelValues(kind, decision).Inc()
}

// RecordProviderOpen records a live provider connection being opened.
func (m *Metrics) RecordProviderOpen(provider string) {
	m.ProviderConnectionsOpened.WithLabelValues(provider).Inc()
	m.ProviderConnectionsActive.Inc()
}

// RecordProviderClose records a live provider connection being closed.
func (m *Metrics) RecordProviderClose() {
	m.ProviderConnectionsActive.Dec()
}

// RecordProviderConnectFailure records a failed dial.
func (m *Metrics) RecordProviderConnectFailure(provider string) {
	m.ProviderConnectFailures.WithLabelValues(provider).Inc()
}

// RecordProviderTimeout records a bounded wait that elapsed.
func (m *Metrics) RecordProviderTimeout(provider string) {
	m.ProviderTimeouts.WithLabelValues(provider).Inc()
}

// RecordSTTError records a provider error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.ProviderErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordResultDropped records a provider result dropped on overflow.
func (m *Metrics) RecordResultDropped() {
	m.ProviderResultsDropped.Inc()
}

// RecordSubmitLatency records the time a submit waited for its result.
func (m *Metrics) RecordSubmitLatency(provider string, final bool, seconds float64) {
	kind := "interim"
	if final {
		kind = "final"
	}
	m.SubmitLatency.WithLabelValues(provider, kind).Observe(seconds)
}

// RecordSessionTransition records a session entering a status.
func (m *Metrics) RecordSessionTransition(to string) {
	m.SessionTransitions.WithLabelValues(to).Inc()
}

// RecordSessionConflict records an optimistic lock conflict.
func (m *Metrics) RecordSessionConflict() {
	m.SessionConflicts.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordAdminCall records an admin RPC.
func (m *Metrics) RecordAdminCall(method, code string) {
	m.AdminCalls.WithLabelValues(method, code).Inc()
}
