package metrics

import "github.com/prometheus/client_golang/prometheus"

// Consumer outcomes for a Pub/Sub message.
const (
	ConsumeHandled   = "handled"
	ConsumeDuplicate = "duplicate"
	ConsumeInvalid   = "invalid"
	ConsumeIgnored   = "ignored"
	ConsumeRetried   = "retried"
)

// ConsumerMetrics counts messages per consumer, event type and outcome.
type ConsumerMetrics struct {
	messages *prometheus.CounterVec
}

func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{}
	}
	m := &ConsumerMetrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubsub_consumer_messages_total",
			Help: "Messages received per consumer, event type and outcome.",
		}, []string{"consumer", "event_type", "outcome"}),
	}
	reg.MustRegister(m.messages)
	return m
}

func (m *ConsumerMetrics) Observe(consumer, eventType, outcome string) {
	if m == nil || m.messages == nil {
		return
	}
	m.messages.WithLabelValues(normalizeLabel(consumer), normalizeLabel(eventType), outcome).Inc()
}
