package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics tracks queue job outcomes per queue and job type.
type JobMetrics struct {
	processed    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	depth        *prometheus.GaugeVec
}

// NewJobMetrics registers the queue metrics on reg. A nil registerer yields a
// no-op recorder.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	labels := []string{"queue", "type"}
	m := &JobMetrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_jobs_processed_total",
			Help: "Jobs that completed successfully.",
		}, labels),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_jobs_failed_total",
			Help: "Job attempts that returned an error.",
		}, labels),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_jobs_dead_lettered_total",
			Help: "Jobs that exhausted their attempts.",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queue_job_duration_seconds",
			Help:    "Handler duration per attempt.",
			Buckets: prometheus.DefBuckets,
		}, labels),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_jobs",
			Help: "Jobs per queue and status at the last count.",
		}, []string{"queue", "status"}),
	}
	reg.MustRegister(m.processed, m.failed, m.deadLettered, m.duration, m.depth)
	return m
}

// ObserveAttempt records one handler run.
func (m *JobMetrics) ObserveAttempt(queue, jobType string, duration time.Duration, err error) {
	if m == nil || m.duration == nil {
		return
	}
	queue, jobType = normalizeLabel(queue), normalizeLabel(jobType)
	m.duration.WithLabelValues(queue, jobType).Observe(duration.Seconds())
	if err != nil {
		m.failed.WithLabelValues(queue, jobType).Inc()
		return
	}
	m.processed.WithLabelValues(queue, jobType).Inc()
}

// IncDeadLettered records a job moved to FAILED.
func (m *JobMetrics) IncDeadLettered(queue, jobType string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(normalizeLabel(queue), normalizeLabel(jobType)).Inc()
}

// SetDepth records the job count for a queue and status.
func (m *JobMetrics) SetDepth(queue, status string, count int64) {
	if m == nil || m.depth == nil {
		return
	}
	m.depth.WithLabelValues(normalizeLabel(queue), normalizeLabel(status)).Set(float64(count))
}
