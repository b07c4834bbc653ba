package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "relay"

// EnrichmentMetrics exposes counters for audio staging and transcription.
type EnrichmentMetrics struct {
	transcriptions *prometheus.CounterVec
	staging        *prometheus.CounterVec
}

func NewEnrichmentMetrics(reg prometheus.Registerer) *EnrichmentMetrics {
	m := &EnrichmentMetrics{
		transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "transcriptions_total",
			Help:      "Audio transcription attempts by outcome",
		}, []string{"outcome"}),
		staging: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "staging_total",
			Help:      "Attachment staging operations by operation and status",
		}, []string{"op", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transcriptions, m.staging)
	return m
}

func (m *EnrichmentMetrics) ObserveTranscription(outcome string) {
	if m == nil {
		return
	}
	m.transcriptions.WithLabelValues(outcome).Inc()
}

func (m *EnrichmentMetrics) ObserveStaging(op string, err error) {
	if m == nil {
		return
	}
	m.staging.WithLabelValues(op, statusLabel(err)).Inc()
}

// WebhookMetrics exposes counters/histograms for outbound webhook delivery.
type WebhookMetrics struct {
	attempts  *prometheus.CounterVec
	exhausted *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "attempts_total",
			Help:      "Webhook delivery attempts",
		}, []string{"webhook_type", "status"}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "exhausted_total",
			Help:      "Webhook tasks that ran out of attempts",
		}, []string{"webhook_type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "attempt_latency_seconds",
			Help:      "Latency of a single webhook delivery attempt",
			Buckets:   prometheus.DefBuckets,
		}, []string{"webhook_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attempts, m.exhausted, m.latency)
	return m
}

func (m *WebhookMetrics) ObserveAttempt(webhookType string, err error, seconds float64) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(webhookType, statusLabel(err)).Inc()
	m.latency.WithLabelValues(webhookType).Observe(seconds)
}

func (m *WebhookMetrics) ObserveExhausted(webhookType string) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(webhookType).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
