// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. Metrics()
// measures request counts, latencies, in-flight concurrency, and response
// sizes with bounded label cardinality:
//
//   - method: HTTP verb
//   - path:   the registered Gin route (e.g. /api/v1/schedule/items/:id);
//     falls back to the raw URL path when no route matched
//   - status: numeric status code as a string
//
// It also carries domain counters maintained by the service handlers:
// conflict recomputes and optimization proposals/applies, labeled by outcome.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// httpReqs counts requests by method, route path, and status code.
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// httpLat records request duration in seconds by method and route path.
	// Status is omitted to keep histogram cardinality lower.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// httpInflight gauges the number of requests currently being processed.
	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// httpRespSize captures response sizes in bytes by method and route path.
	// Buckets are tuned for typical JSON API payload sizes.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 500, 1 << 10, 2 << 10, 5 << 10,
				10 << 10, 25 << 10, 50 << 10,
				100 << 10, 250 << 10, 500 << 10,
				1 << 20, 2 << 20, 5 << 20,
			},
		},
		[]string{"method", "path"},
	)

	// conflictRecomputes counts detector runs by outcome ("ok" / "error").
	conflictRecomputes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_conflict_recomputes_total",
			Help: "Total number of conflict detection recomputes.",
		},
		[]string{"outcome"},
	)

	// optimizationOps counts optimization proposals and applies by outcome
	// ("ok" / "rejected" / "stale" / "error").
	optimizationOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_optimization_operations_total",
			Help: "Total number of optimization proposals and applies.",
		},
		[]string{"op", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize,
		conflictRecomputes, optimizationOps)
}

// ObserveConflictRecompute records the outcome of one detector run.
func ObserveConflictRecompute(outcome string) {
	conflictRecomputes.WithLabelValues(outcome).Inc()
}

// ObserveOptimization records the outcome of one optimization operation.
func ObserveOptimization(op, outcome string) {
	optimizationOps.WithLabelValues(op, outcome).Inc()
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
//
// Per request it increments http_requests_total, observes request duration
// and response size, and tracks the in-flight gauge. The "path" label uses
// the registered route (c.FullPath()) so raw URLs cannot explode label
// cardinality; unmatched routes fall back to the URL path.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		dur := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())
		size := c.Writer.Size() // -1 when unknown

		httpReqs.WithLabelValues(method, path, status).Inc()
		httpLat.WithLabelValues(method, path).Observe(dur)
		if size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
