package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hinyari/amedas-ranking-service/internal/traffic"
)

// Upstream source labels.
const (
	SourceStationTable = "stationTable"
	SourceLatestTime   = "latestTime"
	SourceSnapshot     = "snapshot"
	SourceGemini       = "gemini"
)

// Description outcome labels.
const (
	OutcomeCached      = "cached"
	OutcomeGenerated   = "generated"
	OutcomePlaceholder = "placeholder"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream call rate by source (JMA documents, Gemini). Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per call. Watch for: p95 > 2s on snapshot (JMA degradation).
	UpstreamDuration *prometheus.HistogramVec

	// Description cache operations by backend, op (get/set) and result (hit/miss/ok/error).
	CacheOperationsTotal *prometheus.CounterVec

	// Description responses by outcome. Watch for: placeholder share rising (generation failing).
	DescriptionsTotal *prometheus.CounterVec

	// Description requests that joined an in-progress generation for the same key.
	CoalescedGenerationsTotal prometheus.Counter

	// Ranking requests by direction.
	RankingRequestsTotal *prometheus.CounterVec

	// Station directory loads by status. Watch for: frequent errors (JMA table unavailable).
	DirectoryRefreshesTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half_open.
	CircuitBreakerState *prometheus.GaugeVec

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream calls by source and status",
		},
		[]string{"source", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream call latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"source", "status"},
	)
	CacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheOperationsTotal",
			Help: "Description cache operations by backend, op and result",
		},
		[]string{"backend", "op", "result"},
	)
	DescriptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "descriptionsTotal",
			Help: "Description responses by outcome (cached, generated, placeholder)",
		},
		[]string{"outcome"},
	)
	CoalescedGenerationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coalescedGenerationsTotal",
			Help: "Description requests served by an in-progress generation for the same key",
		},
	)
	RankingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankingRequestsTotal",
			Help: "Temperature ranking requests by direction",
		},
		[]string{"direction"},
	)
	DirectoryRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directoryRefreshesTotal",
			Help: "Station directory loads by status",
		},
		[]string{"status"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per component (0 closed, 1 open, 2 half_open)",
		},
		[]string{"component"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration,
		CacheOperationsTotal,
		DescriptionsTotal, CoalescedGenerationsTotal,
		RankingRequestsTotal, DirectoryRefreshesTotal,
		CircuitBreakerState,
	)
}

// RegisterTrafficGauges registers sliding-window gauges over ranking outcomes.
// Call from main after config load with cfg.DegradedWindow.
func RegisterTrafficGauges(window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rankingRequestsInWindow",
					Help: "Ranking outcomes in the degraded-health sliding window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rankingErrorsInWindow",
					Help: "Failed ranking outcomes in the degraded-health sliding window",
				},
				func() float64 {
					errs, _ := traffic.ErrorRate(window)
					return float64(errs)
				},
			),
		)
	})
}

// ObserveUpstream records one upstream call for source with its outcome and latency.
func ObserveUpstream(source string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	UpstreamCallsTotal.WithLabelValues(source, status).Inc()
	UpstreamDuration.WithLabelValues(source, status).Observe(d.Seconds())
}

// RecordCacheOp records a description cache operation result for backend.
func RecordCacheOp(backend, op, result string) {
	CacheOperationsTotal.WithLabelValues(backend, op, result).Inc()
}

// RecordDescription records the outcome of a description lookup.
func RecordDescription(outcome string) {
	DescriptionsTotal.WithLabelValues(outcome).Inc()
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
