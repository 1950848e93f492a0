// Package monitoring exports seed run metrics to a Prometheus Pushgateway
// and raises webhook alerts for unhealthy runs.
package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"

	"github.com/unieasy/places-cli/internal/places"
	"github.com/unieasy/places-cli/internal/seed"
)

// RunMetrics collects per-category counters for one seed run. It implements
// seed.Observer.
type RunMetrics struct {
	reg      *prometheus.Registry
	fetched  *prometheus.CounterVec
	records  *prometheus.CounterVec
	duration prometheus.Gauge
	lastRun  prometheus.Gauge
	dryRun   prometheus.Gauge
}

var _ seed.Observer = (*RunMetrics)(nil)

// NewRunMetrics registers the seed metrics on a fresh registry.
func NewRunMetrics() *RunMetrics {
	r := prometheus.NewRegistry()
	fetched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "places_seed_fetched_total",
		Help: "Raw results returned by nearby search.",
	}, []string{"category"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "places_seed_records_total",
		Help: "Reconciled records by outcome.",
	}, []string{"category", "outcome"})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "places_seed_duration_seconds",
		Help: "Wall time of the last seed run.",
	})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "places_seed_last_run_timestamp_seconds",
		Help: "Unix time the last seed run finished.",
	})
	dryRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "places_seed_dry_run",
		Help: "1 when the last run was a dry run.",
	})

	r.MustRegister(fetched, records, duration, lastRun, dryRun)
	return &RunMetrics{
		reg:      r,
		fetched:  fetched,
		records:  records,
		duration: duration,
		lastRun:  lastRun,
		dryRun:   dryRun,
	}
}

// Fetched counts raw results for a category.
func (m *RunMetrics) Fetched(tag places.Tag, n int) {
	m.fetched.WithLabelValues(string(tag)).Add(float64(n))
}

// Reconciled counts one record outcome.
func (m *RunMetrics) Reconciled(tag places.Tag, o seed.Outcome) {
	m.records.WithLabelValues(string(tag), o.String()).Inc()
}

// Finish records run timing.
func (m *RunMetrics) Finish(started, finished time.Time, dryRun bool) {
	m.duration.Set(finished.Sub(started).Seconds())
	m.lastRun.Set(float64(finished.Unix()))
	if dryRun {
		m.dryRun.Set(1)
	} else {
		m.dryRun.Set(0)
	}
}

// Push sends every metric to the Pushgateway at url under job, replacing the
// previous group.
func (m *RunMetrics) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if job == "" {
		job = "places_seed"
	}
	err := push.New(url, job).
		Gatherer(m.reg).
		Client(&http.Client{Timeout: 10 * time.Second}).
		PushContext(ctx)
	return eris.Wrapf(err, "monitoring: push to %s", url)
}
