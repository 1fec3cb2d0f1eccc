package orchestration

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the run instrumentation. A nil *Metrics records nothing.
type Metrics struct {
	records       prometheus.Counter
	batches       *prometheus.CounterVec
	jobs          prometheus.Counter
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	uploadLatency prometheus.Histogram
}

// NewMetrics creates the run metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hull_sql_records_processed_total",
			Help: "Source rows transformed into records.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hull_sql_batches_total",
			Help: "Batches by outcome (sealed, uploaded, empty, dropped, failed).",
		}, []string{"outcome"}),
		jobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hull_sql_import_jobs_created_total",
			Help: "Downstream import jobs created.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hull_sql_runs_total",
			Help: "Completed runs by mode and status.",
		}, []string{"mode", "status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hull_sql_run_duration_seconds",
			Help:    "Wall time of sync and import runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		}),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hull_sql_batch_upload_seconds",
			Help:    "Time from batch upload start to stored object.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.records, m.batches, m.jobs, m.runs, m.runDuration, m.uploadLatency)
	}
	return m
}

func (m *Metrics) recordProcessed() {
	if m != nil {
		m.records.Inc()
	}
}

func (m *Metrics) batch(outcome string) {
	if m != nil {
		m.batches.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) jobCreated() {
	if m != nil {
		m.jobs.Inc()
	}
}

func (m *Metrics) uploadSeconds(s float64) {
	if m != nil {
		m.uploadLatency.Observe(s)
	}
}

func (m *Metrics) runFinished(mode Mode, status string, seconds float64) {
	if m != nil {
		m.runs.WithLabelValues(string(mode), status).Inc()
		m.runDuration.Observe(seconds)
	}
}
