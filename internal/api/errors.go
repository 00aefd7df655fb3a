package api

import (
	"errors"
	"net/http"

	"github.com/felipepmaragno/keyring-gateway/internal/domain"
)

// statusFor maps an error to its response status and error type.
func statusFor(err error) (int, string) {
	var storeErr *domain.KeyStoreError
	var upErr *domain.UpstreamError

	switch {
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrMissingUserID),
		errors.Is(err, domain.ErrUnsupportedProvider):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, domain.ErrRequestTooLarge):
		return http.StatusRequestEntityTooLarge, "invalid_request_error"
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrKeysRejected):
		return http.StatusUnauthorized, "authentication_error"
	case errors.Is(err, domain.ErrNoAvailableKeys):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, "rate_limit_error"
	case errors.As(err, &storeErr):
		return http.StatusBadGateway, "key_store_error"
	case errors.As(err, &upErr):
		if upErr.StatusCode >= 400 {
			return upErr.StatusCode, "upstream_error"
		}
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// errorMessage is the client-facing text for err. Upstream failures carry
// the provider's own body; key store failures stay generic.
func errorMessage(err error) string {
	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) && upErr.Body != "" {
		return upErr.Body
	}

	var storeErr *domain.KeyStoreError
	if errors.As(err, &storeErr) {
		return "failed to retrieve API keys"
	}

	return err.Error()
}

func writeErr(w http.ResponseWriter, err error) int {
	status, errType := statusFor(err)
	writeError(w, status, errType, errorMessage(err))
	return status
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    status,
		},
		"detail": message,
	})
}
