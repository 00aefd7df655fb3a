package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	RequestsTotal.Reset()
	RequestDuration.Reset()

	RecordRequest("openai", "200", true, 1.5)
	RecordRequest("openai", "401", false, 0.2)
	RecordRequest("anthropic", "200", false, 2.0)

	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("openai", "200")); got != 1 {
		t.Errorf("openai 200 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("openai", "401")); got != 1 {
		t.Errorf("openai 401 = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(RequestDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestRecordKeyAttempt(t *testing.T) {
	KeyAttempts.Reset()

	RecordKeyAttempt("openai", "auth_rejected")
	RecordKeyAttempt("openai", "auth_rejected")
	RecordKeyAttempt("openai", "success")

	if got := testutil.ToFloat64(KeyAttempts.WithLabelValues("openai", "auth_rejected")); got != 2 {
		t.Errorf("auth_rejected attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(KeyAttempts.WithLabelValues("openai", "success")); got != 1 {
		t.Errorf("success attempts = %v, want 1", got)
	}
}

func TestRecordRotationAndExhaustion(t *testing.T) {
	KeyRotations.Reset()
	KeysExhausted.Reset()

	RecordKeyRotation("anthropic")
	RecordKeyRotation("anthropic")
	RecordKeysExhausted("anthropic")

	if got := testutil.ToFloat64(KeyRotations.WithLabelValues("anthropic")); got != 2 {
		t.Errorf("KeyRotations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(KeysExhausted.WithLabelValues("anthropic")); got != 1 {
		t.Errorf("KeysExhausted = %v, want 1", got)
	}
}

func TestRecordDecryptFailure(t *testing.T) {
	DecryptFailures.Reset()

	RecordDecryptFailure("openai")

	if got := testutil.ToFloat64(DecryptFailures.WithLabelValues("openai")); got != 1 {
		t.Errorf("DecryptFailures = %v, want 1", got)
	}
}

func TestRecordKeyStoreError(t *testing.T) {
	KeyStoreErrors.Reset()

	RecordKeyStoreError("fetch keys")
	RecordKeyStoreError("touch key")
	RecordKeyStoreError("touch key")

	if got := testutil.ToFloat64(KeyStoreErrors.WithLabelValues("touch key")); got != 2 {
		t.Errorf("touch key errors = %v, want 2", got)
	}
}

func TestRecordProviderError(t *testing.T) {
	ProviderErrors.Reset()

	RecordProviderError("openai", "transport")
	RecordProviderError("openai", "upstream_status")
	RecordProviderError("openai", "transport")

	if got := testutil.ToFloat64(ProviderErrors.WithLabelValues("openai", "transport")); got != 2 {
		t.Errorf("transport errors = %v, want 2", got)
	}
}

func TestRecordRateLimitHit(t *testing.T) {
	before := testutil.ToFloat64(RateLimitHits)

	RecordRateLimitHit()

	if got := testutil.ToFloat64(RateLimitHits); got != before+1 {
		t.Errorf("RateLimitHits = %v, want %v", got, before+1)
	}
}

func TestActiveStreams(t *testing.T) {
	InitInstanceMetrics("test-pod", "0.1.0")

	ActiveStreams.Reset()

	IncrementActiveStreams()
	IncrementActiveStreams()

	if got := testutil.ToFloat64(ActiveStreams.WithLabelValues("test-pod")); got != 2 {
		t.Errorf("ActiveStreams = %v, want 2", got)
	}

	DecrementActiveStreams()
	if got := testutil.ToFloat64(ActiveStreams.WithLabelValues("test-pod")); got != 1 {
		t.Errorf("ActiveStreams after dec = %v, want 1", got)
	}
}
