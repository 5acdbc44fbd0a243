package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts transport attempts by provider and outcome
	// (success, retryable_failure, permanent_failure).
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiapi_attempts_total",
			Help: "Total number of transport attempts",
		},
		[]string{"provider", "outcome"},
	)

	// RequestDuration observes end-to-end Complete latency, fallback
	// path included.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "multiapi_request_duration_seconds",
			Help:    "Logical request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "status"},
	)

	// AttemptDuration observes single transport attempt latency.
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "multiapi_attempt_duration_seconds",
			Help:    "Transport attempt latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	// CredentialUsage mirrors each credential's current daily counter.
	// The credential label is the redacted suffix.
	CredentialUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "multiapi_credential_usage",
			Help: "Current daily usage per credential",
		},
		[]string{"provider", "credential"},
	)

	// EligibleCredentials tracks how many records each pool can still
	// offer.
	EligibleCredentials = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "multiapi_eligible_credentials",
			Help: "Number of eligible credentials per provider",
		},
		[]string{"provider"},
	)

	// PersistFailures counts dropped or failed usage writes.
	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "multiapi_persist_failures_total",
			Help: "Total number of failed usage persistence writes",
		},
	)

	// ProviderSwitches counts fallbacks onto a non-preferred provider.
	ProviderSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multiapi_provider_switches_total",
			Help: "Total number of provider fallback switches",
		},
		[]string{"from", "to"},
	)
)
