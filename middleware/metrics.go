package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests served by the local API.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latency of HTTP requests served by the local API.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	feedOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_operations_total",
		Help: "Feed operations by outcome (ok, aborted, request_error, error).",
	}, []string{"operation", "result"})

	sessionRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_session_rejections_total",
		Help: "Actions dropped because the session credential was absent or expired.",
	})

	pushNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_push_events_total",
		Help: "Events received on the live channel, by event name.",
	}, []string{"event"})

	syncState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feed_sync_state",
		Help: "Live feed synchronizer state (0 disconnected, 1 connecting, 2 connected, 3 closed).",
	})
)

// Feed operation outcomes.
const (
	ResultOK           = "ok"
	ResultAborted      = "aborted"
	ResultRequestError = "request_error"
	ResultError        = "error"
)

// PrometheusMiddleware records request counts and latency per matched route.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordFeedOperation counts one feed operation outcome.
func RecordFeedOperation(operation, result string) {
	feedOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordSessionRejection counts one action dropped by the session guard.
func RecordSessionRejection() {
	sessionRejectionsTotal.Inc()
}

// RecordPushEvent counts one event received on the live channel.
func RecordPushEvent(event string) {
	pushNotificationsTotal.WithLabelValues(event).Inc()
}

// SetSyncState publishes the synchronizer state.
func SetSyncState(state int) {
	syncState.Set(float64(state))
}
