package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cron run outcomes.
const (
	CronOutcomeSuccess = "success"
	CronOutcomeFailure = "failure"
	CronOutcomeSkipped = "skipped"
)

// CronJobMetrics records scheduled sweep runs. Skipped counts runs another
// instance held the lock for.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	nextRun     *prometheus.GaugeVec
}

// NewCronJobMetrics registers the cron metrics on reg. A nil registerer
// yields a no-op recorder.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_runs_total",
			Help: "Cron job runs by outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cron_job_duration_seconds",
			Help:    "Duration of cron jobs that ran on this instance.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cron_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}, []string{"job"}),
		nextRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cron_job_next_run_timestamp_seconds",
			Help: "Unix time the job is next due.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.nextRun)
	return m
}

// ObserveRun records a run that executed on this instance.
func (m *CronJobMetrics) ObserveRun(job string, finishedAt time.Time, duration time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.runs.WithLabelValues(job, CronOutcomeFailure).Inc()
		return
	}
	m.runs.WithLabelValues(job, CronOutcomeSuccess).Inc()
	m.lastSuccess.WithLabelValues(job).Set(float64(finishedAt.Unix()))
}

// Skipped records a due run that was left to the instance holding the lock.
func (m *CronJobMetrics) Skipped(job string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(job), CronOutcomeSkipped).Inc()
}

// SetNextRun publishes when job is next due.
func (m *CronJobMetrics) SetNextRun(job string, next time.Time) {
	if m == nil || m.nextRun == nil {
		return
	}
	m.nextRun.WithLabelValues(normalizeLabel(job)).Set(float64(next.Unix()))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
