// Package metrics defines the Prometheus instrumentation of the ledger.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MovesRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_moves_recorded_total",
		Help: "Total number of stock moves recorded",
	}, []string{"move_type"})

	MovesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_moves_rejected_total",
		Help: "Total number of rejected move submissions",
	}, []string{"reason"})

	ContentionRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_contention_retries_total",
		Help: "Total number of submissions retried after lock contention",
	})

	SubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_submit_latency_seconds",
		Help:    "Latency of move submission including retries",
		Buckets: prometheus.DefBuckets,
	})

	OutboxPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_outbox_published_total",
		Help: "Total number of outbox events published",
	})

	OutboxFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_outbox_failed_total",
		Help: "Total number of outbox publish failures",
	})

	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_outbox_pending",
		Help: "Outbox events waiting to be published",
	})

	IdempotencyReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_idempotency_replays_total",
		Help: "Total number of submissions answered from the idempotency store",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

// HTTPMiddleware records request counts and latency per route.
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
