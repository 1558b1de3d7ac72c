package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPipelineMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPipelineMetrics(reg)
	job := "generate_derivatives"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncRetry(job)
	metrics.IncRetry(job)
	metrics.IncDead(job)
	metrics.IncDerivative("size_480", true)
	metrics.AddPurgeFailures(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	checks := []struct {
		name  string
		label string
		value string
		want  float64
	}{
		{name: "cms_pipeline_job_success_total", label: "job", value: job, want: 1},
		{name: "cms_pipeline_job_retry_total", label: "job", value: job, want: 2},
		{name: "cms_pipeline_job_dead_total", label: "job", value: job, want: 1},
		{name: "cms_pipeline_derivatives_written_total", label: "watermarked", value: "true", want: 1},
	}
	for _, c := range checks {
		got, err := fetchCounterValue(mfs, c.name, c.label, c.value)
		if err != nil {
			t.Fatalf("fetch %s: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("expected %s=%f, got %f", c.name, c.want, got)
		}
	}

	purge := findMetricFamily(mfs, "cms_pipeline_purge_failed_keys_total")
	if purge == nil || purge.GetMetric()[0].GetCounter().GetValue() != 3 {
		t.Fatalf("expected purge failures=3")
	}

	if got, err := fetchHistogramSum(mfs, "cms_pipeline_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestNilPipelineMetricsAreNoops(t *testing.T) {
	var m *PipelineMetrics
	m.IncSuccess("x")
	m.ObserveDuration("x", time.Second)
	NewPipelineMetrics(nil).IncDerivative("size_75", false)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
