package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

// Metrics accumulates job reports into a private Prometheus registry that is
// written out as a node-exporter textfile at the end of a run.
type Metrics struct {
	registry *prometheus.Registry
	rows     *prometheus.CounterVec
	batches  *prometheus.CounterVec
	duration *prometheus.GaugeVec
	hitRate  *prometheus.GaugeVec
}

// NewMetrics registers the pipeline collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "legacy_etl",
			Name:      "rows_total",
			Help:      "Extracted rows by job and outcome.",
		}, []string{"job", "outcome"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "legacy_etl",
			Name:      "batches_total",
			Help:      "Processed batches by job and status.",
		}, []string{"job", "status"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "legacy_etl",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of the last run of each job.",
		}, []string{"job"}),
		hitRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "legacy_etl",
			Name:      "resolver_cache_hit_ratio",
			Help:      "Resolver cache hit ratio observed during the last run of each job.",
		}, []string{"job"}),
	}
	m.registry.MustRegister(m.rows, m.batches, m.duration, m.hitRate)
	return m
}

// Observe adds a finished job's report.
func (m *Metrics) Observe(r *Report) {
	m.rows.WithLabelValues(r.Job, "created").Add(float64(r.Created))
	m.rows.WithLabelValues(r.Job, "updated").Add(float64(r.Updated))
	m.rows.WithLabelValues(r.Job, SkipNoDocument.String()).Add(float64(r.SkippedNoDocument))
	m.rows.WithLabelValues(r.Job, SkipNoTenant.String()).Add(float64(r.SkippedNoTenant))
	m.rows.WithLabelValues(r.Job, SkipInvalidRow.String()).Add(float64(r.SkippedInvalidRow))
	m.rows.WithLabelValues(r.Job, "errored").Add(float64(r.Errored))
	m.batches.WithLabelValues(r.Job, "ok").Add(float64(r.Batches - r.FailedBatches))
	m.batches.WithLabelValues(r.Job, "failed").Add(float64(r.FailedBatches))
	m.duration.WithLabelValues(r.Job).Set(r.Elapsed.Seconds())
	m.hitRate.WithLabelValues(r.Job).Set(r.CacheHitRate())
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes the collected metrics atomically to path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return eris.Wrapf(err, "pipeline: write metrics textfile %s", path)
	}
	return nil
}
