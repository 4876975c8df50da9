// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhooksTotal tracks inbound webhook outcomes.
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhooks_total",
			Help: "Inbound webhook deliveries by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// EventsTotal counts structured pipeline events.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Structured pipeline events emitted",
		},
		[]string{"event"},
	)

	// JobsTotal tracks finished job attempts by outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_jobs_total",
			Help: "Job attempts by outcome",
		},
		[]string{"outcome"},
	)

	// JobDuration tracks the wall time of one job attempt.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_job_duration_seconds",
			Help:    "Duration of one job attempt",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"outcome"},
	)

	// ProtectionDecisions tracks gate outcomes.
	ProtectionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_protection_decisions_total",
			Help: "Protection gate decisions",
		},
		[]string{"gate", "outcome"},
	)

	// LLMRequestDuration tracks language model request duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// OutboundSendsTotal tracks provider send attempts.
	OutboundSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_outbound_sends_total",
			Help: "Outbound provider sends by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// OutboxPublished tracks outbox rows published to the queue.
	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_outbox_published_total",
			Help: "Outbox rows published by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	// OutboxPending reports unpublished rows seen by the last sweep.
	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_outbox_pending",
			Help: "Unpublished outbox rows found by the last sweep",
		},
	)

	// NATSConsumerPending tracks pending messages for consumers.
	NATSConsumerPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_consumer_pending",
			Help: "Pending messages for NATS consumer",
		},
		[]string{"stream", "consumer"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"tenant_id"},
	)

	// MessagesTotal tracks total persisted messages.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"tenant_id", "direction"},
	)

	// CacheUp reports the last cache health probe.
	CacheUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_cache_up",
			Help: "1 when the last cache ping succeeded",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMRequest records metrics for a language model call.
func RecordLLMRequest(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordJob records the outcome of one job attempt.
func RecordJob(outcome string, duration float64) {
	JobsTotal.WithLabelValues(outcome).Inc()
	JobDuration.WithLabelValues(outcome).Observe(duration)
}
