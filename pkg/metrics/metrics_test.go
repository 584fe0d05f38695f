package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestWebhookMetricsExportsCounterAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)

	m.Observe("invoice.payment_failed", OutcomeProcessed, 120*time.Millisecond)
	m.Observe("invoice.payment_failed", OutcomeProcessed, 80*time.Millisecond)
	m.Observe("", OutcomeRejected, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	got, err := fetchCounterValue(mfs, "stripe_webhook_events_total", map[string]string{
		"event_type": "invoice.payment_failed",
		"outcome":    OutcomeProcessed,
	})
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected 2 processed events, got %f", got)
	}

	if _, err := fetchCounterValue(mfs, "stripe_webhook_events_total", map[string]string{
		"event_type": "unknown",
		"outcome":    OutcomeRejected,
	}); err != nil {
		t.Fatalf("expected blank event type to be labelled unknown: %v", err)
	}

	sum, err := fetchHistogramSum(mfs, "stripe_webhook_duration_seconds", map[string]string{"event_type": "invoice.payment_failed"})
	if err != nil {
		t.Fatalf("fetch duration: %v", err)
	}
	if sum < 0.19 || sum > 0.21 {
		t.Fatalf("expected duration sum 0.2s, got %f", sum)
	}
}

func TestNotificationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewNotificationMetrics(reg)
	m.Inc("payment_failed", "sent")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	got, err := fetchCounterValue(mfs, "notifications_sent_total", map[string]string{"kind": "payment_failed", "outcome": "sent"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected 1, got %f", got)
	}
}

func TestJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobMetrics(reg)
	m.Observe("outbox-retention", 50*time.Millisecond, nil)
	m.Observe("outbox-retention", 10*time.Millisecond, errors.New("db down"))
	m.AddDeleted("outbox-retention", 12)
	m.AddDeleted("outbox-retention", 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, outcome := range []string{"success", "failure"} {
		got, err := fetchCounterValue(mfs, "maintenance_job_runs_total", map[string]string{"job": "outbox-retention", "outcome": outcome})
		if err != nil {
			t.Fatalf("fetch %s: %v", outcome, err)
		}
		if got != 1 {
			t.Fatalf("expected 1 %s run, got %f", outcome, got)
		}
	}
	deleted, err := fetchCounterValue(mfs, "maintenance_job_rows_deleted_total", map[string]string{"job": "outbox-retention"})
	if err != nil {
		t.Fatalf("fetch deleted: %v", err)
	}
	if deleted != 12 {
		t.Fatalf("expected 12 rows deleted, got %f", deleted)
	}
}

func TestNilRegistererIsNoop(t *testing.T) {
	NewWebhookMetrics(nil).Observe("x", OutcomeFailed, time.Second)
	NewNotificationMetrics(nil).Inc("x", "failed")
	NewJobMetrics(nil).Observe("x", time.Second, nil)
	var m *WebhookMetrics
	m.Observe("x", OutcomeFailed, time.Second)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
