package metrics

import "github.com/prometheus/client_golang/prometheus"

// NotificationMetrics counts email sends by template and outcome.
type NotificationMetrics struct {
	sent *prometheus.CounterVec
}

func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return &NotificationMetrics{}
	}
	sent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Transactional email sends by kind and outcome.",
	}, []string{"kind", "outcome"})
	reg.MustRegister(sent)
	return &NotificationMetrics{sent: sent}
}

func (m *NotificationMetrics) Inc(kind, outcome string) {
	if m == nil || m.sent == nil {
		return
	}
	m.sent.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}
