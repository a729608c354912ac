// Package metrics exposes Prometheus collectors for the orchestrator.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	backendRequestsTotal          *prometheus.CounterVec
	backendRequestDurationSeconds *prometheus.HistogramVec
	cacheLookupsTotal             *prometheus.CounterVec
	cacheInvalidationsTotal       prometheus.Counter
	jobWatchesActive              prometheus.Gauge
	jobWatchOutcomesTotal         *prometheus.CounterVec
	uploadsTotal                  *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		backendRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataqual_backend_requests_total",
				Help: "Total backend requests, labeled by method and status code.",
			},
			[]string{"method", "code"},
		)

		backendRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dataqual_backend_request_duration_seconds",
				Help:    "Histogram of backend request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "route"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataqual_cache_lookups_total",
				Help: "Total cache lookups, labeled by outcome (hit, miss, stale).",
			},
			[]string{"outcome"},
		)

		cacheInvalidationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dataqual_cache_invalidations_total",
				Help: "Total explicit cache invalidations.",
			},
		)

		jobWatchesActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dataqual_job_watches_active",
				Help: "Number of job watches currently polling.",
			},
		)

		jobWatchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataqual_job_watch_outcomes_total",
				Help: "Total finished job watches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		uploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataqual_uploads_total",
				Help: "Total upload submissions, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBackendRequest increments the backend request metrics.
func ObserveBackendRequest(method, route string, code int, duration time.Duration) {
	if backendRequestsTotal == nil {
		return
	}
	backendRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	backendRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCacheLookup increments the cache lookup counter for the outcome.
func ObserveCacheLookup(outcome string) {
	if cacheLookupsTotal == nil {
		return
	}
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheInvalidation increments the invalidation counter.
func ObserveCacheInvalidation() {
	if cacheInvalidationsTotal == nil {
		return
	}
	cacheInvalidationsTotal.Inc()
}

// IncActiveWatches increments the active watch gauge.
func IncActiveWatches() {
	if jobWatchesActive == nil {
		return
	}
	jobWatchesActive.Inc()
}

// DecActiveWatches decrements the active watch gauge.
func DecActiveWatches() {
	if jobWatchesActive == nil {
		return
	}
	jobWatchesActive.Dec()
}

// ObserveWatchOutcome increments the watch outcome counter.
func ObserveWatchOutcome(outcome string) {
	if jobWatchOutcomesTotal == nil {
		return
	}
	jobWatchOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveUpload increments the upload counter for the result.
func ObserveUpload(result string) {
	if uploadsTotal == nil {
		return
	}
	uploadsTotal.WithLabelValues(result).Inc()
}
