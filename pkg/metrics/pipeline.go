package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cms_pipeline"

// PipelineMetrics records job outcomes and derivative output for the pipeline worker.
type PipelineMetrics struct {
	duration    *prometheus.HistogramVec
	success     *prometheus.CounterVec
	retry       *prometheus.CounterVec
	dead        *prometheus.CounterVec
	derivatives *prometheus.CounterVec
	purgeFailed prometheus.Counter
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Duration of pipeline jobs in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_success_total",
		Help:      "Pipeline jobs that completed.",
	}, []string{"job"})
	retry := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_retry_total",
		Help:      "Pipeline jobs rescheduled after a retryable failure.",
	}, []string{"job"})
	dead := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_dead_total",
		Help:      "Pipeline jobs buried after a terminal failure.",
	}, []string{"job"})
	derivatives := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "derivatives_written_total",
		Help:      "Derivative files written, by size bucket.",
	}, []string{"size", "watermarked"})
	purgeFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purge_failed_keys_total",
		Help:      "Object keys that could not be deleted during a purge attempt.",
	})
	reg.MustRegister(duration, success, retry, dead, derivatives, purgeFailed)
	return &PipelineMetrics{
		duration:    duration,
		success:     success,
		retry:       retry,
		dead:        dead,
		derivatives: derivatives,
		purgeFailed: purgeFailed,
	}
}

// ObserveDuration records the duration for the named job.
func (m *PipelineMetrics) ObserveDuration(job string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) IncSuccess(job string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(job)).Inc()
}

func (m *PipelineMetrics) IncRetry(job string) {
	if m == nil || m.retry == nil {
		return
	}
	m.retry.WithLabelValues(normalizeLabel(job)).Inc()
}

func (m *PipelineMetrics) IncDead(job string) {
	if m == nil || m.dead == nil {
		return
	}
	m.dead.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncDerivative counts one derivative row produced for size.
func (m *PipelineMetrics) IncDerivative(size string, watermarked bool) {
	if m == nil || m.derivatives == nil {
		return
	}
	m.derivatives.WithLabelValues(normalizeLabel(size), strconv.FormatBool(watermarked)).Inc()
}

func (m *PipelineMetrics) AddPurgeFailures(n int) {
	if m == nil || m.purgeFailed == nil || n <= 0 {
		return
	}
	m.purgeFailed.Add(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
