package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestEnrichmentMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEnrichmentMetrics(reg)
	m.ObserveTranscription("ok")
	m.ObserveTranscription("ok")
	m.ObserveTranscription("api_failed")
	m.ObserveStaging("stage", nil)
	m.ObserveStaging("release", errors.New("boom"))

	if got := counterValue(t, m.transcriptions.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok transcriptions, got %v", got)
	}
	if got := counterValue(t, m.staging.WithLabelValues("release", "error")); got != 1 {
		t.Fatalf("expected 1 failed release, got %v", got)
	}
}

func TestWebhookMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)
	m.ObserveAttempt("account_webhook", errors.New("timeout"), 0.2)
	m.ObserveAttempt("account_webhook", nil, 0.1)
	m.ObserveExhausted("inbox_webhook")

	if got := counterValue(t, m.attempts.WithLabelValues("account_webhook", "error")); got != 1 {
		t.Fatalf("expected 1 failed attempt, got %v", got)
	}
	if got := counterValue(t, m.exhausted.WithLabelValues("inbox_webhook")); got != 1 {
		t.Fatalf("expected 1 exhausted task, got %v", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var e *EnrichmentMetrics
	e.ObserveTranscription("ok")
	e.ObserveStaging("stage", nil)

	var w *WebhookMetrics
	w.ObserveAttempt("account_webhook", nil, 0.1)
	w.ObserveExhausted("account_webhook")
}
