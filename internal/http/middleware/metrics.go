package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTP collectors. The route label is the registered Gin route
// (/webhooks/:service/:hookJobId), never the raw URL, so hook job ids do not
// leak into label values.
var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "area",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "area",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "area",
			Name:      "http_requests_inflight",
			Help:      "HTTP requests currently being served.",
		},
	)

	// httpReqSize tracks inbound body sizes, mostly webhook payloads.
	httpReqSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "area",
			Name:      "http_request_size_bytes",
			Help:      "Declared HTTP request body size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 7), // 256B..1MiB
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpReqSize)
}

// unmatchedRoute labels requests that hit no route.
const unmatchedRoute = "unmatched"

// Metrics instruments every request with the collectors above.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		httpReqs.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if n := c.Request.ContentLength; n > 0 {
			httpReqSize.WithLabelValues(route).Observe(float64(n))
		}
	}
}
