// Package metrics holds the Prometheus collectors exported by the gateway at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline outcomes used as the "outcome" label of MessagesProcessed.
const (
	OutcomeBroadcast     = "broadcast"
	OutcomeRejected      = "rejected"
	OutcomePersistFailed = "persist_failed"
)

var (
	// Connection metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duochat_active_sessions",
			Help: "Currently open WebSocket sessions",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duochat_online_users",
			Help: "Identities with at least one open session",
		},
	)

	HandshakeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duochat_handshake_failures_total",
			Help: "Handshakes refused with an authentication error",
		},
	)

	SlowConsumers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duochat_slow_consumers_total",
			Help: "Sessions torn down because their outbound queue was full",
		},
	)

	// Pipeline metrics
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duochat_messages_processed_total",
			Help: "Send requests by terminal pipeline state",
		},
		[]string{"outcome"},
	)

	MetadataUpdateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duochat_metadata_update_failures_total",
			Help: "Appended messages whose conversation pointer could not be updated",
		},
	)

	FanoutDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duochat_fanout_deliveries_total",
			Help: "Events enqueued to sessions by fan-out",
		},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duochat_pipeline_duration_seconds",
			Help:    "Time from receiving a send request to its terminal state",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duochat_store_latency_seconds",
			Help:    "Conversation store call latency including retries",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"op"},
	)

	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duochat_store_retries_total",
			Help: "Retried conversation store calls",
		},
		[]string{"op"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duochat_rate_limit_hits_total",
			Help: "Requests rejected by a rate limiter",
		},
		[]string{"scope"},
	)
)
