package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivevault_http_requests_total",
			Help: "Total HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivevault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// BrokerOperations counts broker calls by operation and outcome.
	BrokerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivevault_broker_operations_total",
			Help: "File broker operations by outcome.",
		},
		[]string{"operation", "result"},
	)

	// OrphanedBlobs counts blobs whose compensating delete failed.
	OrphanedBlobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drivevault_orphaned_blobs_total",
		Help: "Blobs left behind after a failed compensating delete.",
	})

	ListCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drivevault_list_cache_hits_total",
		Help: "File list cache hits.",
	})
	ListCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drivevault_list_cache_misses_total",
		Help: "File list cache misses.",
	})

	// CleanupResults counts orphan cleanup attempts in the worker.
	CleanupResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivevault_cleanup_results_total",
			Help: "Orphan cleanup attempts by outcome.",
		},
		[]string{"result"},
	)
)

// Middleware records request count and latency. The route pattern is used
// as the path label so ids never become label values.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
