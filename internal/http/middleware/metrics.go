// Package middleware – HTTP metrics
//
// HTTPMetrics instruments the ops server with Prometheus. Label cardinality
// is bounded by using the registered route (c.FullPath()) as the path label.
// Requests that matched no route are folded into a single "unmatched" path
// so scanners cannot inflate the series count.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedPath labels requests that did not hit a registered route.
const unmatchedPath = "unmatched"

// HTTPMetrics holds the request collectors of one server.
type HTTPMetrics struct {
	reqs     *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inflight prometheus.Gauge
	size     *prometheus.HistogramVec
}

// NewHTTPMetrics creates the collectors and registers them with reg. A nil
// reg uses prometheus.DefaultRegisterer.
func NewHTTPMetrics(reg prometheus.Registerer) (*HTTPMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &HTTPMetrics{
		reqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "path"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		}),
		size: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes.",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8), // 128B..2MiB
		}, []string{"method", "path"}),
	}
	for _, c := range []prometheus.Collector{m.reqs, m.latency, m.inflight, m.size} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler returns the instrumenting middleware. Manual dispatch runs can be
// slow, hence the latency buckets reaching one minute.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		method := c.Request.Method
		m.reqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// size is -1 when nothing was written
		if size := c.Writer.Size(); size >= 0 {
			m.size.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
