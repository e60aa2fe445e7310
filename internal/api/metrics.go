package api

// metrics.go exposes Prometheus metrics for each process: a per-process
// registry with a handful of counters/gauges exported at GET /metrics.

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var promhttpOpts = promhttp.HandlerOpts{}

// Metrics collects the counters and gauges one process exposes over
// GET /metrics.
type Metrics struct {
	registry *prometheus.Registry

	NewsCollected     prometheus.Counter
	ScansRun          prometheus.Counter
	CandidatesRanked  prometheus.Counter
	CyclesStarted     prometheus.Counter
	CyclesCompleted   prometheus.Counter
	CyclesFailed      prometheus.Counter
	CycleDuration     prometheus.Histogram
	ActiveCycles      prometheus.Gauge
	CollaboratorCalls *prometheus.CounterVec
}

// NewMetrics builds a fresh registry scoped to one process, named by
// service so multiple processes' metrics never collide when scraped
// through a shared federation target.
func NewMetrics(service string) *Metrics {
	registry := prometheus.NewRegistry()
	namespace := "catalyst"

	m := &Metrics{
		registry: registry,
		NewsCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: service, Name: "news_items_collected_total",
			Help: "Total new news items collected.",
		}),
		ScansRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: service, Name: "scans_run_total",
			Help: "Total scanner passes run.",
		}),
		CandidatesRanked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: service, Name: "candidates_ranked_total",
			Help: "Total trading candidates ranked across all scans.",
		}),
		CyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: service, Name: "cycles_started_total",
			Help: "Total trading cycles started.",
		}),
		CyclesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: service, Name: "cycles_completed_total",
			Help: "Total trading cycles that reached the Completed state.",
		}),
		CyclesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: service, Name: "cycles_failed_total",
			Help: "Total trading cycles that reached the Failed state.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: service, Name: "cycle_duration_seconds",
			Help:    "Trading cycle wall-clock duration.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ActiveCycles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: service, Name: "active_cycles",
			Help: "1 if a cycle is currently running, else 0.",
		}),
		CollaboratorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: service, Name: "collaborator_calls_total",
			Help: "Collaborator HTTP calls by target and outcome.",
		}, []string{"target", "outcome"}),
	}

	registry.MustRegister(
		m.NewsCollected, m.ScansRun, m.CandidatesRanked,
		m.CyclesStarted, m.CyclesCompleted, m.CyclesFailed,
		m.CycleDuration, m.ActiveCycles, m.CollaboratorCalls,
	)
	return m
}

// Registry returns the process-scoped Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
