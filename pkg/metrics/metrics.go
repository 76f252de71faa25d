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
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
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

	// RelayTurnsTotal counts relay turns by outcome and error kind.
	RelayTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_turns_total",
			Help: "Relay turns by outcome",
		},
		[]string{"outcome", "kind"},
	)

	// RelayStreamDuration tracks how long an outbound stream stayed open.
	RelayStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_stream_duration_seconds",
			Help:    "Relay streaming response duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"provider", "outcome"},
	)

	// RelayFragmentsTotal counts fragments written to callers.
	RelayFragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_fragments_total",
			Help: "Total text fragments relayed to callers",
		},
		[]string{"provider"},
	)

	// RelayStreamsActive tracks open outbound streams.
	RelayStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_streams_active",
			Help: "Number of open relay streams",
		},
	)

	// RateLimitDecisions counts limiter decisions.
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Rate limiter decisions",
		},
		[]string{"limiter", "decision"},
	)

	// ValidationRejections counts inputs rejected by validators.
	ValidationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "validation_rejections_total",
			Help: "Inputs rejected by validators",
		},
		[]string{"validator"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records the outcome of a relay turn.
func RecordTurn(provider, outcome, kind string, duration float64) {
	RelayTurnsTotal.WithLabelValues(outcome, kind).Inc()
	RelayStreamDuration.WithLabelValues(provider, outcome).Observe(duration)
}

// RecordFragment counts one relayed fragment.
func RecordFragment(provider string) {
	RelayFragmentsTotal.WithLabelValues(provider).Inc()
}

// RecordRateLimit records an allow/deny decision for the named limiter.
func RecordRateLimit(limiter string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	RateLimitDecisions.WithLabelValues(limiter, decision).Inc()
}

// RecordValidationRejection counts one rejected input.
func RecordValidationRejection(validator string) {
	ValidationRejections.WithLabelValues(validator).Inc()
}

// IncrementStreams increments the open stream count.
func IncrementStreams() {
	RelayStreamsActive.Inc()
}

// DecrementStreams decrements the open stream count.
func DecrementStreams() {
	RelayStreamsActive.Dec()
}
