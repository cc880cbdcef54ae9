package metric

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespaceAPI = "api"

var (
	metricReqCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespaceAPI,
			Name:      "requests_count",
			Help:      "",
		},
		[]string{"method", "path", "status"},
	)
	metricReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespaceAPI,
			Name:      "requests_duration",
			Help:      "Request duration in milliseconds",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(metricReqCount)
	prometheus.MustRegister(metricReqDuration)
}

// PrometheusMiddleware returns a gin middleware that counts the API requests
// and measures their duration per route
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		metricReqCount.WithLabelValues(c.Request.Method, path, status).Inc()
		MeasureDuration(metricReqDuration, start, c.Request.Method, path, status)
	}
}
