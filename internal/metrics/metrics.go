// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hangoutcal"

// Recorder owns a private registry so tests can create as many as they like.
type Recorder struct {
	registry      *prometheus.Registry
	handler       http.Handler
	fetchTotal    *prometheus.CounterVec
	populateTotal *prometheus.CounterVec
	rangesTotal   *prometheus.CounterVec
	computeTime   prometheus.Histogram
}

// New registers all collectors on a fresh registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	fetchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ics_fetch_total",
		Help:      "ICS fetches by result (ok, not_modified, cached_fallback, error).",
	}, []string{"result"})

	populateTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_populate_total",
		Help:      "Per-day busy index population attempts by result.",
	}, []string{"result"})

	rangesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ranges_computed_total",
		Help:      "Ranges produced by merge/segment, by mode.",
	}, []string{"mode"})

	computeTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "range_compute_seconds",
		Help:      "Time spent merging and segmenting a selection.",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
	})

	registry.MustRegister(fetchTotal, populateTotal, rangesTotal, computeTime)

	return &Recorder{
		registry:      registry,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		fetchTotal:    fetchTotal,
		populateTotal: populateTotal,
		rangesTotal:   rangesTotal,
		computeTime:   computeTime,
	}
}

// Handler serves the registry in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return r.handler
}

// Registry exposes the underlying registry (tests, extra collectors).
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObserveFetch(result string) {
	if r == nil {
		return
	}
	r.fetchTotal.WithLabelValues(result).Inc()
}

func (r *Recorder) ObservePopulate(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.populateTotal.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveRanges(mode string, n int, took time.Duration) {
	if r == nil {
		return
	}
	r.rangesTotal.WithLabelValues(mode).Add(float64(n))
	r.computeTime.Observe(took.Seconds())
}
