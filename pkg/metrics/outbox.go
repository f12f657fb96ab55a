package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox row outcomes after a publish attempt.
const (
	OutboxPublished    = "published"
	OutboxDeferred     = "deferred"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks what the relay did with each outbox row.
type OutboxMetrics struct {
	events    *prometheus.CounterVec
	batchSize prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_total",
			Help: "Outbox rows handled by the relay per event type and outcome.",
		}, []string{"event_type", "outcome"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_batch_rows",
			Help:    "Rows locked per relay batch.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),
	}
	reg.MustRegister(m.events, m.batchSize)
	return m
}

func (m *OutboxMetrics) Observe(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

func (m *OutboxMetrics) ObserveBatch(rows int) {
	if m == nil || m.batchSize == nil {
		return
	}
	m.batchSize.Observe(float64(rows))
}
