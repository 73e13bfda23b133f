package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Run results used as the "result" label of medreminder_dispatch_runs_total.
const (
	RunOK      = "ok"
	RunError   = "error"
	RunSkipped = "skipped" // claim held by another run
)

// DispatchMetrics holds the dispatcher's Prometheus collectors on a private
// registry, so one-shot runs can push exactly these series to a Pushgateway
// and serve mode can expose them next to the HTTP metrics.
//
// A nil *DispatchMetrics is valid and records nothing.
type DispatchMetrics struct {
	reg *prometheus.Registry

	runs        *prometheus.CounterVec
	found       prometheus.Counter
	processed   prometheus.Counter
	attempts    *prometheus.CounterVec
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
}

// NewDispatchMetrics creates and registers the dispatch collectors.
func NewDispatchMetrics() *DispatchMetrics {
	m := &DispatchMetrics{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medreminder_dispatch_runs_total",
			Help: "Dispatch runs by result (ok, error, skipped).",
		}, []string{"result"}),
		found: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medreminder_reminders_found_total",
			Help: "Due reminders selected by dispatch runs.",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medreminder_reminders_processed_total",
			Help: "Reminders marked delivered by dispatch runs.",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medreminder_channel_attempts_total",
			Help: "Channel attempts by channel and status (delivered, failed, not_applicable).",
		}, []string{"channel", "status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medreminder_dispatch_run_duration_seconds",
			Help:    "Wall time of dispatch runs.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medreminder_dispatch_last_success_timestamp_seconds",
			Help: "Unix time of the last dispatch run that completed without a fatal error.",
		}),
	}
	m.reg.MustRegister(m.runs, m.found, m.processed, m.attempts, m.duration, m.lastSuccess)
	return m
}

// Gatherer exposes the private registry.
func (m *DispatchMetrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.Gatherers{}
	}
	return m.reg
}

// ObserveRun records one finished run.
func (m *DispatchMetrics) ObserveRun(result string, found, processed int, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.found.Add(float64(found))
	m.processed.Add(float64(processed))
	if result != RunSkipped {
		m.duration.Observe(took.Seconds())
	}
	if result == RunOK {
		m.lastSuccess.SetToCurrentTime()
	}
}

// ObserveAttempt records one channel outcome.
func (m *DispatchMetrics) ObserveAttempt(channel, status string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(channel, status).Inc()
}

// Push sends the current values to the Pushgateway at url under job.
func (m *DispatchMetrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(m.reg).PushContext(ctx)
}
