// Package metrics provides process-wide Prometheus instrumentation for bankguard.
//
// Domain counters live next to the code that increments them (alerts,
// detection); this package holds the HTTP, database and realtime gauges.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bankguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bankguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bankguard",
		Name:      "http_rate_limited_total",
		Help:      "Requests rejected with 429 by the per-client rate limiter.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankguard",
		Name:      "websocket_clients",
		Help:      "Currently connected realtime alert subscribers.",
	})

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankguard", Name: "db_open_connections",
		Help: "Number of established database connections.",
	})
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankguard", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankguard", Name: "db_in_use_connections",
		Help: "Number of database connections currently in use.",
	})
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankguard", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})

	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankguard", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RateLimitedTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		GoroutineCount,
	)
}

// StartDBStatsCollector samples sql.DBStats and the goroutine count into
// gauges every interval. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath() // route pattern keeps label cardinality bounded
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
