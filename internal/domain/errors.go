package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrRequestTooLarge     = errors.New("request body too large")
	ErrUnauthorized        = errors.New("invalid gateway API key")
	ErrMissingUserID       = errors.New("missing X-User-Id header")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrNoAvailableKeys     = errors.New("no available API keys")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrKeysRejected        = errors.New("all API keys were rejected")
)

// KeyStoreError reports a failure talking to the key store. It is an
// infrastructure fault, distinct from the store holding no keys.
type KeyStoreError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *KeyStoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("key store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("key store %s failed (status %d): %s", e.Op, e.StatusCode, e.Body)
}

func (e *KeyStoreError) Unwrap() error {
	return e.Err
}

// UpstreamError is a provider failure that must not trigger key rotation.
// StatusCode is zero when the call never produced a response.
type UpstreamError struct {
	Provider   ProviderID
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s error: status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NoKeysError wraps ErrNoAvailableKeys with the reason no key could be offered.
func NoKeysError(reason string) error {
	return fmt.Errorf("%w: %s", ErrNoAvailableKeys, reason)
}
