// Package metrics defines the Prometheus metric collectors used by the search
// reduction service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	PhaseLatency         *prometheus.HistogramVec
	ReducePhases         prometheus.Histogram
	AggBufferFlushes     prometheus.Counter
	FetchedDocs          prometheus.Histogram
	ShardErrorsTotal     *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	ActiveShards         prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, partial, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "End-to-end search latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		PhaseLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_phase_latency_seconds",
				Help:    "Latency per search phase (dfs, query, reduce, fetch).",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"phase"},
		),
		ReducePhases: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_reduce_phases",
				Help:    "Number of reduce passes applied per query.",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
			},
		),
		AggBufferFlushes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_agg_buffer_flushes_total",
				Help: "Total intermediate aggregation buffer flushes.",
			},
		),
		FetchedDocs: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_fetched_docs",
				Help:    "Number of documents materialized per fetch phase.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
		),
		ShardErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_shard_errors_total",
				Help: "Total per-shard failures by phase.",
			},
			[]string{"phase"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		ActiveShards: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_shards",
				Help: "Number of shards available to the search coordinator.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.PhaseLatency,
		m.ReducePhases,
		m.AggBufferFlushes,
		m.FetchedDocs,
		m.ShardErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ActiveShards,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
