package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics tracks delivery of file events to the message bus.
type OutboxMetrics struct {
	published    *prometheus.CounterVec
	retried      *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cms_outbox",
			Name:      "published_total",
			Help:      "File events delivered to the message bus.",
		}, []string{"event_type"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cms_outbox",
			Name:      "publish_retries_total",
			Help:      "Publish attempts that failed and were left for a later batch.",
		}, []string{"event_type"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cms_outbox",
			Name:      "dead_lettered_total",
			Help:      "File events moved to the dead-letter table.",
		}, []string{"event_type", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cms_outbox",
			Name:      "delivery_lag_seconds",
			Help:      "Time between an event being recorded and its delivery.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 15, 60, 300, 1800},
		}, []string{"event_type"}),
	}
	reg.MustRegister(m.published, m.retried, m.deadLettered, m.latency)
	return m
}

// IncPublished counts a delivered event and how long it waited in the outbox.
func (m *OutboxMetrics) IncPublished(eventType string, lag time.Duration) {
	if m == nil || m.published == nil {
		return
	}
	label := normalizeLabel(eventType)
	m.published.WithLabelValues(label).Inc()
	if lag > 0 {
		m.latency.WithLabelValues(label).Observe(lag.Seconds())
	}
}

func (m *OutboxMetrics) IncRetry(eventType string) {
	if m == nil || m.retried == nil {
		return
	}
	m.retried.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncDeadLettered(eventType, reason string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(eventType), normalizeLabel(reason)).Inc()
}
