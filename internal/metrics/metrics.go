// Package metrics collects per-run Prometheus metrics and writes them as a
// node-exporter textfile.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smileynet/jpfdoop/internal/process"
)

// Invocation outcome label values.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the collectors for one pipeline run on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration      *prometheus.HistogramVec
	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	lastRunSuccess     prometheus.Gauge
}

// New creates Metrics registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jpfdoop_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 3, 10), // 0.1s to ~33m
		}, []string{"stage", "status"}),
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jpfdoop_tool_invocations_total",
			Help: "External tool invocations by stage and outcome",
		}, []string{"stage", "outcome"}),
		invocationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jpfdoop_tool_invocation_duration_seconds",
			Help:    "External tool run time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 3, 10),
		}, []string{"stage"}),
		lastRunSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "jpfdoop_last_run_success",
			Help: "1 if the last pipeline run succeeded, 0 otherwise",
		}),
	}
}

// Registry returns the registry holding the run's collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records a finished stage.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// SetRunResult records whether the run as a whole succeeded.
func (m *Metrics) SetRunResult(ok bool) {
	if ok {
		m.lastRunSuccess.Set(1)
		return
	}
	m.lastRunSuccess.Set(0)
}

// WriteTextfile writes every collected metric to path in the Prometheus text
// format, for the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// InstrumentRunner wraps r so every invocation is counted by outcome and timed.
func (m *Metrics) InstrumentRunner(r process.Runner) process.Runner {
	return &instrumentedRunner{next: r, m: m}
}

type instrumentedRunner struct {
	next process.Runner
	m    *Metrics
}

func (r *instrumentedRunner) Run(ctx context.Context, inv process.Invocation) process.Result {
	res := r.next.Run(ctx, inv)
	r.m.invocations.WithLabelValues(inv.Stage, Outcome(res)).Inc()
	r.m.invocationDuration.WithLabelValues(inv.Stage).Observe(res.Duration.Seconds())
	return res
}

// Outcome classifies a result for the outcome label.
func Outcome(res process.Result) string {
	switch {
	case res.TimedOut:
		return OutcomeTimeout
	case errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded):
		return OutcomeCancelled
	case res.Succeeded():
		return OutcomeSuccess
	default:
		return OutcomeFailure
	}
}
