package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// dispatch pipeline.
type Metrics struct {
	Cycles           *prometheus.CounterVec // labels: outcome={success,fetch_error,parse_error,status_error,busy}
	CycleDuration    prometheus.Histogram
	IncidentsParsed  prometheus.Counter
	IncidentsPending prometheus.Gauge
	UnknownUnits     prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Posting metrics.
	StatusesPosted  prometheus.Counter
	PostErrors      prometheus.Counter
	PostAPIDuration prometheus.Histogram

	// Sink metrics.
	SinkWrites prometheus.Counter
	SinkErrors prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Cycles,
		m.CycleDuration,
		m.IncidentsParsed,
		m.IncidentsPending,
		m.UnknownUnits,
		m.PipelineRunning,
		m.StatusesPosted,
		m.PostErrors,
		m.PostAPIDuration,
		m.SinkWrites,
		m.SinkErrors,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fire_dispatch",
			Name:      "cycles_total",
			Help:      "Reconcile cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fire_dispatch",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-parse-post cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		IncidentsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fire_dispatch",
			Name:      "incidents_parsed_total",
			Help:      "Total incident rows parsed from the feed.",
		}),
		IncidentsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fire_dispatch",
			Name:      "incidents_pending",
			Help:      "Incidents selected for posting in the last cycle.",
		}),
		UnknownUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fire_dispatch",
			Name:      "unknown_units_total",
			Help:      "Unit codes seen with an unrecognized type prefix.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fire_dispatch",
			Name:      "pipeline_running",
			Help:      "1 while the scheduler is active, 0 when shut down.",
		}),
		StatusesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fire_dispatch",
			Name:      "statuses_posted_total",
			Help:      "Total statuses posted.",
		}),
		PostErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fire_dispatch",
			Name:      "post_errors_total",
			Help:      "Total failed status posts.",
		}),
		PostAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fire_dispatch",
			Name:      "post_api_duration_seconds",
			Help:      "Status post request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		SinkWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fire_dispatch",
			Name:      "sink_messages_total",
			Help:      "Total incidents written to the sink topic.",
		}),
		SinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fire_dispatch",
			Name:      "sink_errors_total",
			Help:      "Total failed sink batch writes.",
		}),
	}
}
