package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_webhooks_received_total",
			Help: "Total number of webhook requests received",
		},
		[]string{"source", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end webhook processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Authentication metrics
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Total number of authentication failures",
		},
		[]string{"source", "reason"},
	)

	ReplaysRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_replays_rejected_total",
			Help: "Total number of requests rejected as replays",
		},
		[]string{"source"},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"source"},
	)

	// Idempotency metrics
	IdempotencyOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_idempotency_outcomes_total",
			Help: "Idempotency resolution outcomes (new, duplicate, conflict)",
		},
		[]string{"outcome"},
	)

	// Normalization metrics
	NormalizationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_normalization_errors_total",
			Help: "Total number of normalization or contract validation failures",
		},
		[]string{"source"},
	)

	// Publisher metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_published_total",
			Help: "Total number of events handed to the durable log",
		},
		[]string{"kind"},
	)

	PublishBufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_publish_buffer_depth",
			Help: "Current number of events held in the fail-closed buffer",
		},
	)

	PublishState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_publish_state",
			Help: "Publisher state (0=connected, 1=reconnecting, 2=buffer_full)",
		},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_publish_failures_total",
			Help: "Total number of requests failed closed due to log unavailability",
		},
	)
)
