package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics holds the Prometheus metrics of the context engine.
// All methods are safe on a nil receiver so services work without metrics in tests.
type EngineMetrics struct {
	// Preview metrics
	PreviewsBuilt  *prometheus.CounterVec
	PreviewLatency prometheus.Histogram
	PreviewItems   prometheus.Histogram
	PreviewCache   *prometheus.CounterVec

	// Summarizer metrics
	SummarizerOutcomes *prometheus.CounterVec

	// Session metrics
	SessionDecisions *prometheus.CounterVec
}

// NewEngineMetrics registers the engine metrics with reg. A nil reg uses the default registerer.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &EngineMetrics{
		// Previews by result (ok, not_found, invalid, upstream_error)
		PreviewsBuilt: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskloom_context_previews_total",
			Help: "Total number of context previews requested, by result",
		}, []string{"result"}),

		PreviewLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskloom_context_preview_duration_seconds",
			Help:    "Context preview build latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}, // summarizer calls can take tens of seconds
		}),

		PreviewItems: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskloom_context_preview_items",
			Help:    "Number of items included in a context preview",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}),

		PreviewCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskloom_context_preview_cache_total",
			Help: "Preview cache lookups by outcome",
		}, []string{"outcome"}), // hit or miss

		// Summarizer outcomes: ai or fallback, with the fallback reason
		SummarizerOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskloom_summarizer_outcomes_total",
			Help: "Summarizer invocations by outcome",
		}, []string{"outcome", "reason"}),

		// Ledger decisions by trigger type ("continue" when no rotation happened)
		SessionDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskloom_session_decisions_total",
			Help: "Session ledger decisions by trigger type",
		}, []string{"decision"}),
	}
}

// RecordPreview records a finished preview build
func (m *EngineMetrics) RecordPreview(result string, seconds float64, items int) {
	if m == nil {
		return
	}
	m.PreviewsBuilt.WithLabelValues(result).Inc()
	m.PreviewLatency.Observe(seconds)
	if result == "ok" {
		m.PreviewItems.Observe(float64(items))
	}
}

// RecordCacheLookup records a preview cache hit or miss
func (m *EngineMetrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.PreviewCache.WithLabelValues("hit").Inc()
		return
	}
	m.PreviewCache.WithLabelValues("miss").Inc()
}

// RecordSummarizer records how a summarization request was served
func (m *EngineMetrics) RecordSummarizer(outcome, reason string) {
	if m == nil {
		return
	}
	m.SummarizerOutcomes.WithLabelValues(outcome, reason).Inc()
}

// RecordSessionDecision records a ledger decision
func (m *EngineMetrics) RecordSessionDecision(decision string) {
	if m == nil {
		return
	}
	m.SessionDecisions.WithLabelValues(decision).Inc()
}
