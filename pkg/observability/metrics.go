// Package observability provides Prometheus metrics, HTTP middleware and
// an engine observer for monitoring PolyRun.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExecBuckets defines histogram buckets suited for block and run
// latencies, ranging from 10ms to 5 minutes.
var ExecBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

var (
	// RequestsTotal counts HTTP requests by method, route, and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyrun_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polyrun_request_duration_seconds",
			Help:    "Request duration",
			Buckets: ExecBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks active SSE and WebSocket connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polyrun_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// RunsTotal counts finished runs by outcome (success, failure, aborted).
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyrun_runs_total",
			Help: "Finished runs",
		},
		[]string{"outcome"},
	)

	// RunDuration records whole-run duration in seconds.
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polyrun_run_duration_seconds",
			Help:    "Run duration",
			Buckets: ExecBuckets,
		},
	)

	// BlocksTotal counts finished blocks by language and status.
	BlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyrun_blocks_total",
			Help: "Finished blocks",
		},
		[]string{"language", "status"},
	)

	// BlockDuration records block duration in seconds by language and backend.
	BlockDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polyrun_block_duration_seconds",
			Help:    "Block duration",
			Buckets: ExecBuckets,
		},
		[]string{"language", "backend"},
	)

	// BlocksConsolidatedTotal counts source blocks merged away by consolidation.
	BlocksConsolidatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polyrun_blocks_consolidated_total",
			Help: "Blocks merged by consolidation",
		},
	)

	// SecurityRejectionsTotal counts blocks rejected by the security validator.
	SecurityRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyrun_security_rejections_total",
			Help: "Security rejections",
		},
		[]string{"language"},
	)

	// IsolationFallbacksTotal counts blocks that ran locally because
	// isolation was unavailable.
	IsolationFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyrun_isolation_fallbacks_total",
			Help: "Isolation fallbacks",
		},
		[]string{"language"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyrun_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		RunsTotal,
		RunDuration,
		BlocksTotal,
		BlockDuration,
		BlocksConsolidatedTotal,
		SecurityRejectionsTotal,
		IsolationFallbacksTotal,
		RateLimitRejectedTotal,
	)
}
