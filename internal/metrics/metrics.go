// Package metrics exposes Prometheus collectors for the rescue pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stageArticlesTotal      *prometheus.CounterVec
	fetchFailuresTotal      *prometheus.CounterVec
	archiveGateWaitSeconds  prometheus.Histogram
	archiveQueriesTotal     *prometheus.CounterVec
	httpRequestDurationSecs *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		stageArticlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rescue_stage_articles_total",
				Help: "Articles processed per pipeline stage, labeled by outcome.",
			},
			[]string{"stage", "outcome"},
		)

		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rescue_fetch_failures_total",
				Help: "Fetch failures labeled by classified kind.",
			},
			[]string{"kind"},
		)

		archiveGateWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rescue_archive_gate_wait_seconds",
				Help:    "Time spent waiting on the archive request gate.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10},
			},
		)

		archiveQueriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rescue_archive_queries_total",
				Help: "Snapshot index queries, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rescue_http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// ObserveStageOutcome counts one article outcome for a stage.
func ObserveStageOutcome(stage, outcome string) {
	if stageArticlesTotal == nil {
		return
	}
	stageArticlesTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveFetchFailure counts one classified fetch failure.
func ObserveFetchFailure(kind string) {
	if fetchFailuresTotal == nil || kind == "" {
		return
	}
	fetchFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveGateWait records how long a worker waited on the archive gate.
func ObserveGateWait(d time.Duration) {
	if archiveGateWaitSeconds == nil {
		return
	}
	archiveGateWaitSeconds.Observe(d.Seconds())
}

// ObserveArchiveQuery counts a snapshot index query result (hit/miss/error).
func ObserveArchiveQuery(result string) {
	if archiveQueriesTotal == nil {
		return
	}
	archiveQueriesTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest records an API request latency.
func ObserveHTTPRequest(method, route string, d time.Duration) {
	if httpRequestDurationSecs == nil {
		return
	}
	httpRequestDurationSecs.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
