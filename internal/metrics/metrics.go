// Package metrics registers the Prometheus collectors shared across the
// transport, outbox, and payment paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coziyoo",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method, and status.",
	}, []string{"route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coziyoo",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	OutboxProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coziyoo",
		Subsystem: "outbox",
		Name:      "processed_total",
		Help:      "Outbox events processed successfully.",
	}, []string{"event_type"})

	OutboxFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coziyoo",
		Subsystem: "outbox",
		Name:      "failures_total",
		Help:      "Outbox handler failures (retried).",
	}, []string{"event_type"})

	OutboxDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coziyoo",
		Subsystem: "outbox",
		Name:      "dead_lettered_total",
		Help:      "Outbox events moved to the dead-letter table.",
	}, []string{"event_type"})

	PaymentWebhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coziyoo",
		Subsystem: "payments",
		Name:      "webhooks_total",
		Help:      "Payment webhooks by outcome.",
	}, []string{"outcome"})

	OrdersCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coziyoo",
		Subsystem: "orders",
		Name:      "completed_total",
		Help:      "Orders that reached the completed state.",
	})
)
