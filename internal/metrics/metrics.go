package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "donna",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "donna",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	// Webhook router
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "donna",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound webhook events by classified kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Model calls
	ModelRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "donna",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Model requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	ModelRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "donna",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Model request duration in seconds, retries included",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"operation"},
	)

	// Orchestrator
	RepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "donna",
			Subsystem: "assistant",
			Name:      "replies_total",
			Help:      "Replies produced by source (model, fallback, command, welcome)",
		},
		[]string{"source"},
	)

	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "donna",
			Subsystem: "assistant",
			Name:      "actions_total",
			Help:      "Action intents dispatched to integrations",
		},
		[]string{"intent", "outcome"},
	)

	UserSlotWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "donna",
			Subsystem: "assistant",
			Name:      "user_slot_wait_seconds",
			Help:      "Time spent waiting for the per-user turn slot",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
		},
	)

	SummariesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "donna",
			Subsystem: "memory",
			Name:      "summaries_total",
			Help:      "Summarization attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Bridge
	BridgeSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "donna",
			Subsystem: "bridge",
			Name:      "sends_total",
			Help:      "Outbound bridge messages by outcome",
		},
		[]string{"outcome"},
	)

	// Credentials
	CredentialsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "donna",
			Subsystem: "integrations",
			Name:      "credentials_expired_total",
			Help:      "Credentials marked expired by the sweep",
		},
	)
)

// ObserveModelRequest records one model operation
func ObserveModelRequest(operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ModelRequestsTotal.WithLabelValues(operation, outcome).Inc()
	ModelRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records an HTTP request
func RecordRequest(method, route, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, route, status).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(durationSec)
}
