package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SchedulerJobReasonDeadlineExceeded = "deadline_exceeded"
	SchedulerJobReasonCanceled         = "canceled"
	SchedulerJobReasonError            = "error"
)

// SchedulerMetrics counts background job runs. A nil value records nothing.
type SchedulerMetrics struct {
	runs     *prometheus.CounterVec
	timeouts *prometheus.CounterVec
	errors   *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewSchedulerMetrics(reg prometheus.Registerer) (*SchedulerMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &SchedulerMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yardcraft_scheduler_job_runs_total",
			Help: "Scheduler job runs.",
		}, []string{"job"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yardcraft_scheduler_job_timeouts_total",
			Help: "Scheduler jobs that hit their deadline.",
		}, []string{"job"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yardcraft_scheduler_job_errors_total",
			Help: "Scheduler job failures by reason.",
		}, []string{"job", "reason"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yardcraft_scheduler_job_skipped_total",
			Help: "Scheduler jobs skipped because another instance holds the lock.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yardcraft_scheduler_job_duration_seconds",
			Help:    "Scheduler job wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
	for _, c := range []prometheus.Collector{m.runs, m.timeouts, m.errors, m.skipped, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobSkipped(job string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(job, jobErrorReason(err)).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func jobErrorReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return SchedulerJobReasonDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return SchedulerJobReasonCanceled
	default:
		return SchedulerJobReasonError
	}
}
