// Package metrics exposes batch progress counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"steel-siting/decision/optimizer"
)

// Batch holds the counters of one process on a private registry.
type Batch struct {
	registry *prometheus.Registry

	points      *prometheus.CounterVec
	unresolved  prometheus.Counter
	regions     *prometheus.CounterVec
	regionTime  *prometheus.HistogramVec
	globalReady *prometheus.GaugeVec
}

// NewBatch registers every collector on a fresh registry.
func NewBatch() *Batch {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Batch{
		registry: reg,
		points: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steelsite",
			Name:      "points_evaluated_total",
			Help:      "Grid points evaluated, by outcome.",
		}, []string{"outcome"}),
		unresolved: f.NewCounter(prometheus.CounterOpts{
			Namespace: "steelsite",
			Name:      "locations_unresolved_total",
			Help:      "Grid points priced with average costs.",
		}),
		regions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steelsite",
			Name:      "regions_completed_total",
			Help:      "Regions finished, by source (computed or stored).",
		}, []string{"source"}),
		regionTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "steelsite",
			Name:      "region_duration_seconds",
			Help:      "Wall time to compute one region.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"region"}),
		globalReady: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "steelsite",
			Name:      "global_ready",
			Help:      "1 when the global raster of a year and percentile is complete.",
		}, []string{"year", "percentile"}),
	}
}

var _ optimizer.Recorder = (*Batch)(nil)

// PointEvaluated counts one grid point.
func (b *Batch) PointEvaluated(o optimizer.Outcome) {
	b.points.WithLabelValues(o.String()).Inc()
}

// LocationUnresolved counts a fallback to average costs.
func (b *Batch) LocationUnresolved() {
	b.unresolved.Inc()
}

// RegionCompleted counts a finished region. reused is true for a region
// loaded from a previous run.
func (b *Batch) RegionCompleted(region string, reused bool, seconds float64) {
	if reused {
		b.regions.WithLabelValues("stored").Inc()
		return
	}
	b.regions.WithLabelValues("computed").Inc()
	b.regionTime.WithLabelValues(region).Observe(seconds)
}

// GlobalReady sets the readiness gauge of a global aggregation.
func (b *Batch) GlobalReady(year, percentile string, ready bool) {
	v := 0.0
	if ready {
		v = 1
	}
	b.globalReady.WithLabelValues(year, percentile).Set(v)
}

// Registry returns the underlying registry.
func (b *Batch) Registry() *prometheus.Registry {
	return b.registry
}

// Handler serves the registry in the Prometheus text format.
func (b *Batch) Handler() http.Handler {
	return promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{})
}
