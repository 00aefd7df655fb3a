package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyring_gateway_requests_total",
			Help: "Total number of completion requests processed",
		},
		[]string{"provider", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keyring_gateway_request_duration_seconds",
			Help:    "Completion request duration in seconds, up to the first streamed byte for streams",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "stream"},
	)

	KeyAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyring_gateway_key_attempts_total",
			Help: "Upstream attempts by outcome, one per key tried",
		},
		[]string{"provider", "outcome"},
	)

	KeyRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyring_gateway_key_rotations_total",
			Help: "Number of times a rejected key was skipped for the next one",
		},
		[]string{"provider"},
	)

	KeysExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyring_gateway_keys_exhausted_total",
			Help: "Requests where every candidate key was rejected",
		},
		[]string{"provider"},
	)

	DecryptFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyring_gateway_decrypt_failures_total",
			Help: "Stored keys skipped because they could not be decrypted",
		},
		[]string{"provider"},
	)

	KeyStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyring_gateway_key_store_errors_total",
			Help: "Key store failures by operation",
		},
		[]string{"op"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyring_gateway_provider_errors_total",
			Help: "Total number of provider errors",
		},
		[]string{"provider", "error_type"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keyring_gateway_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
	)

	ActiveStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keyring_gateway_active_streams",
			Help: "Number of active streaming connections",
		},
		[]string{"pod"},
	)

	InstanceInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keyring_gateway_instance_info",
			Help: "Instance information (always 1)",
		},
		[]string{"pod", "version"},
	)
)

func RecordRequest(provider, status string, stream bool, durationSec float64) {
	RequestsTotal.WithLabelValues(provider, status).Inc()
	RequestDuration.WithLabelValues(provider, boolLabel(stream)).Observe(durationSec)
}

func RecordKeyAttempt(provider, outcome string) {
	KeyAttempts.WithLabelValues(provider, outcome).Inc()
}

func RecordKeyRotation(provider string) {
	KeyRotations.WithLabelValues(provider).Inc()
}

func RecordKeysExhausted(provider string) {
	KeysExhausted.WithLabelValues(provider).Inc()
}

func RecordDecryptFailure(provider string) {
	DecryptFailures.WithLabelValues(provider).Inc()
}

func RecordKeyStoreError(op string) {
	KeyStoreErrors.WithLabelValues(op).Inc()
}

func RecordProviderError(provider, errorType string) {
	ProviderErrors.WithLabelValues(provider, errorType).Inc()
}

func RecordRateLimitHit() {
	RateLimitHits.Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

var currentPodName string

// InitInstanceMetrics should be called once at startup.
func InitInstanceMetrics(podName, version string) {
	currentPodName = podName
	InstanceInfo.WithLabelValues(podName, version).Set(1)
}

func IncrementActiveStreams() {
	ActiveStreams.WithLabelValues(currentPodName).Inc()
}

func DecrementActiveStreams() {
	ActiveStreams.WithLabelValues(currentPodName).Dec()
}
