// Package metrics exposes prometheus instrumentation for the messaging core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, path and status.",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Normalized webhook events by provider and kind.",
	}, []string{"provider", "kind"})

	WebhookRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rejected_total",
		Help: "Webhook requests rejected by signature verification.",
	}, []string{"provider"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_sent_total",
		Help: "Outbound messages by provider and outcome.",
	}, []string{"provider", "outcome"})
)

// Middleware records request counts and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
