// Package metrics exports batch results to a Prometheus pushgateway. Batches
// are short-lived, so metrics are pushed rather than scraped.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"OpportunityPipeline/internal/usecase"
)

const defaultJob = "opportunity_pipeline"

// BatchMetrics holds the gauges describing the last batch. LastSuccess lives
// in its own registry so a failed batch can push without it.
type BatchMetrics struct {
	url      string
	job      string
	registry *prometheus.Registry
	success  *prometheus.Registry

	Records     *prometheus.GaugeVec
	Duration    prometheus.Gauge
	LastSuccess prometheus.Gauge
	LastRun     prometheus.Gauge
}

var _ usecase.MetricsPusher = (*BatchMetrics)(nil)

// New registers the batch gauges and targets the pushgateway at url.
func New(url, job string) *BatchMetrics {
	if job == "" {
		job = defaultJob
	}

	m := &BatchMetrics{
		url:      url,
		job:      job,
		registry: prometheus.NewRegistry(),
		success:  prometheus.NewRegistry(),
		Records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "opportunity_batch_records",
			Help: "Records handled by the last batch, by stage outcome.",
		}, []string{"outcome"}),
		Duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opportunity_batch_duration_seconds",
			Help: "Wall time of the last batch.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opportunity_batch_last_success_timestamp_seconds",
			Help: "Unix time of the last batch without draft failures.",
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opportunity_batch_last_run_timestamp_seconds",
			Help: "Unix time the last batch finished.",
		}),
	}
	m.registry.MustRegister(m.Records, m.Duration, m.LastRun)
	m.success.MustRegister(m.LastSuccess)
	return m
}

// Observe copies a report into the gauges.
func (m *BatchMetrics) Observe(report usecase.Report) {
	for outcome, n := range map[string]int{
		"pulled":    report.Pulled,
		"rejected":  report.Rejected,
		"inserted":  report.Inserted,
		"duplicate": report.Duplicates,
		"drafted":   report.Drafted,
		"escalated": report.Escalated,
		"ignored":   report.Ignored,
		"failed":    report.Failed,
		"cancelled": report.Cancelled,
	} {
		m.Records.WithLabelValues(outcome).Set(float64(n))
	}
	m.Duration.Set(report.Duration().Seconds())
	m.LastRun.Set(float64(report.FinishedAt.Unix()))
	if report.Failed == 0 {
		m.LastSuccess.Set(float64(report.FinishedAt.Unix()))
	}
}

// Push observes the report and adds its gauges to the job on the gateway.
// A batch with failures leaves the gateway's last success timestamp as is.
func (m *BatchMetrics) Push(ctx context.Context, report usecase.Report) error {
	m.Observe(report)

	pusher := push.New(m.url, m.job).Gatherer(m.registry)
	if report.Failed == 0 {
		pusher = pusher.Gatherer(m.success)
	}
	if err := pusher.AddContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
