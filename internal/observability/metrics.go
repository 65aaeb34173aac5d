package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grounded_chat"

// Pipeline stages
const (
	StageEmbedding  = "embedding"
	StageSearch     = "search"
	StageCompletion = "completion"
	StageSpeech     = "speech_token"
)

// Metrics collects application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	chatRequests        *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	upstreamErrors      *prometheus.CounterVec
	documentsRetrieved  prometheus.Histogram
	promptTokens        prometheus.Histogram
	evidenceTruncations prometheus.Counter
	embeddingFallbacks  prometheus.Counter
	fallbackReplies     prometheus.Counter
	speechTokens        *prometheus.CounterVec
	auditDropped        prometheus.Counter
}

// NewMetrics registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by outcome status.",
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of external calls by pipeline stage.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed external calls by stage and HTTP status (0 for transport errors).",
		}, []string{"stage", "status"}),
		documentsRetrieved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "documents_retrieved",
			Help:      "Documents returned per search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
		}),
		promptTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens_estimated",
			Help:      "Estimated system prompt tokens at 4 characters per token.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 8),
		}),
		evidenceTruncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_truncations_total",
			Help:      "Prompts whose evidence block was cut to the token budget.",
		}),
		embeddingFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_fallbacks_total",
			Help:      "Searches that fell back to text-only after an embedding failure.",
		}),
		fallbackReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_replies_total",
			Help:      "Replies classified as no-answer.",
		}),
		speechTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_tokens_total",
			Help:      "Speech token requests by result.",
		}, []string{"result"}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Audit records dropped because the queue was full.",
		}),
	}

	registry.MustRegister(
		m.chatRequests,
		m.stageDuration,
		m.upstreamErrors,
		m.documentsRetrieved,
		m.promptTokens,
		m.evidenceTruncations,
		m.embeddingFallbacks,
		m.fallbackReplies,
		m.speechTokens,
		m.auditDropped,
	)

	return m
}

// Handler returns the /metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordChat(status string) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RecordUpstreamError(stage, status string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(stage, status).Inc()
}

func (m *Metrics) RecordRetrieval(documents int) {
	if m == nil {
		return
	}
	m.documentsRetrieved.Observe(float64(documents))
}

func (m *Metrics) RecordPrompt(estimatedTokens int, truncated bool) {
	if m == nil {
		return
	}
	m.promptTokens.Observe(float64(estimatedTokens))
	if truncated {
		m.evidenceTruncations.Inc()
	}
}

func (m *Metrics) RecordEmbeddingFallback() {
	if m == nil {
		return
	}
	m.embeddingFallbacks.Inc()
}

func (m *Metrics) RecordFallbackReply() {
	if m == nil {
		return
	}
	m.fallbackReplies.Inc()
}

func (m *Metrics) RecordSpeechToken(result string) {
	if m == nil {
		return
	}
	m.speechTokens.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordAuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}
