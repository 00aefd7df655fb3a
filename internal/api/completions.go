package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felipepmaragno/keyring-gateway/internal/crypto"
	"github.com/felipepmaragno/keyring-gateway/internal/domain"
	"github.com/felipepmaragno/keyring-gateway/internal/keyring"
	"github.com/felipepmaragno/keyring-gateway/internal/metrics"
	"github.com/felipepmaragno/keyring-gateway/internal/notifications"
	"github.com/felipepmaragno/keyring-gateway/internal/provider"
	"github.com/felipepmaragno/keyring-gateway/internal/telemetry"
	"github.com/go-chi/chi/v5/middleware"
)

const maxRequestBody = 4 << 20

// completion carries the per-request state through the rotation loop.
type completion struct {
	requestID string
	userID    string
	provider  domain.ProviderID
	req       domain.ChatRequest
	start     time.Time
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := middleware.GetReqID(r.Context())

	if err := h.gatewayKey.Verify(r.Header.Get("X-API-Key")); err != nil {
		h.logger.Warn("gateway key rejected", "request_id", requestID)
		h.finish(w, "", false, start, err)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		h.finish(w, "", false, start, domain.ErrMissingUserID)
		return
	}

	req, err := domain.DecodeChatRequest(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.finish(w, "", false, start, err)
		return
	}

	providerID := domain.NormalizeProvider(req.Provider)
	adapter, err := h.router.Select(providerID)
	if err != nil {
		h.finish(w, string(providerID), req.Stream, start, err)
		return
	}

	if !h.allow(r.Context(), w, userID, requestID) {
		h.finish(w, string(providerID), req.Stream, start, domain.ErrRateLimitExceeded)
		return
	}

	if req.Stream {
		if _, ok := w.(http.Flusher); !ok {
			writeError(w, http.StatusInternalServerError, "internal_error", "streaming not supported")
			return
		}
	}

	ctx, span := telemetry.StartSpan(r.Context(), "chat.completions")
	defer span.End()
	telemetry.AddRequestAttributes(span, userID, string(providerID), requestID, req.Stream)

	c := completion{
		requestID: requestID,
		userID:    userID,
		provider:  providerID,
		req:       req,
		start:     start,
	}

	candidates, err := h.listKeys(ctx, c)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		h.finish(w, string(providerID), req.Stream, start, err)
		return
	}

	h.rotate(ctx, w, c, adapter, candidates)
}

func (h *Handler) listKeys(ctx context.Context, c completion) ([]keyring.Candidate, error) {
	ctx, span := telemetry.StartSpan(ctx, "keyring.list")
	defer span.End()

	candidates, err := h.keys.ListUsableKeys(ctx, c.userID, c.provider)
	if err != nil {
		var storeErr *domain.KeyStoreError
		if errors.As(err, &storeErr) {
			metrics.RecordKeyStoreError(storeErr.Op)
			h.logger.Error("key store failure",
				"request_id", c.requestID,
				"user_id", c.userID,
				"provider", c.provider,
				"error", err,
			)
		} else {
			h.logger.Info("no usable keys",
				"request_id", c.requestID,
				"user_id", c.userID,
				"provider", c.provider,
				"reason", err,
			)
		}
		return nil, err
	}
	return candidates, nil
}

// rotate tries each candidate in order. Only an auth rejection moves on to
// the next key; any other failure ends the request.
//
// On success the provider's response is relayed as-is: a unary 200 carries
// the upstream JSON body unchanged (OpenAI chat.completion or Anthropic
// message shape, checked only for JSON validity), and a stream carries the
// upstream SSE bytes unchanged. X-Key-Attempts reports how many keys were
// tried.
func (h *Handler) rotate(ctx context.Context, w http.ResponseWriter, c completion, adapter provider.Adapter, candidates []keyring.Candidate) {
	var lastRejection error

	for i, candidate := range candidates {
		attempt := i + 1
		record := candidate.Record

		if err := h.keys.MarkUsed(ctx, record); err != nil {
			metrics.RecordKeyStoreError("touch key")
			h.logger.Error("failed to mark key used",
				"request_id", c.requestID,
				"key_id", record.ID,
				"error", err,
			)
			h.finish(w, string(c.provider), c.req.Stream, c.start, err)
			return
		}

		attemptCtx, span := telemetry.StartSpan(ctx, "provider.attempt")
		telemetry.AddKeyAttributes(span, record.ID, attempt)

		var outcome provider.Outcome
		var err error

		if c.req.Stream {
			res := adapter.Stream(attemptCtx, candidate.Plaintext, c.req)
			outcome, err = res.Outcome, res.Err
			if outcome == provider.OutcomeSuccess {
				metrics.RecordKeyAttempt(string(c.provider), outcome.String())
				w.Header().Set("X-Key-Attempts", strconv.Itoa(attempt))
				h.relayStream(w, c, record, res)
				telemetry.AddOutcomeAttribute(span, outcome.String())
				span.End()
				return
			}
		} else {
			res := adapter.Complete(attemptCtx, candidate.Plaintext, c.req)
			outcome, err = res.Outcome, res.Err
			if outcome == provider.OutcomeSuccess {
				metrics.RecordKeyAttempt(string(c.provider), outcome.String())
				telemetry.AddOutcomeAttribute(span, outcome.String())
				span.End()

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Key-Attempts", strconv.Itoa(attempt))
				w.WriteHeader(http.StatusOK)
				w.Write(res.Body)

				h.record(string(c.provider), http.StatusOK, false, c.start)
				h.logger.Info("request completed",
					"request_id", c.requestID,
					"user_id", c.userID,
					"provider", c.provider,
					"key_id", record.ID,
					"attempts", attempt,
					"latency_ms", time.Since(c.start).Milliseconds(),
				)
				return
			}
		}

		metrics.RecordKeyAttempt(string(c.provider), outcome.String())
		telemetry.AddOutcomeAttribute(span, outcome.String())
		telemetry.AddErrorAttribute(span, err)
		span.End()

		if outcome == provider.OutcomeAuthRejected {
			lastRejection = err
			h.logger.Warn("provider rejected key",
				"request_id", c.requestID,
				"user_id", c.userID,
				"provider", c.provider,
				"key_id", record.ID,
				"key_fingerprint", crypto.Fingerprint(candidate.Plaintext),
				"attempt", attempt,
			)
			h.notify(notifications.Notification{
				Type:     notifications.NotificationKeyRejected,
				UserID:   c.userID,
				Provider: string(c.provider),
				KeyID:    record.ID,
				Message:  fmt.Sprintf("%s rejected key %s", c.provider, record.ID),
			})
			if attempt < len(candidates) {
				metrics.RecordKeyRotation(string(c.provider))
			}
			continue
		}

		metrics.RecordProviderError(string(c.provider), providerErrorType(err))
		h.logger.Error("provider request failed",
			"request_id", c.requestID,
			"user_id", c.userID,
			"provider", c.provider,
			"key_id", record.ID,
			"error", err,
		)
		w.Header().Set("X-Key-Attempts", strconv.Itoa(attempt))
		h.finish(w, string(c.provider), c.req.Stream, c.start, err)
		return
	}

	metrics.RecordKeysExhausted(string(c.provider))
	h.notify(notifications.Notification{
		Type:     notifications.NotificationKeysExhausted,
		UserID:   c.userID,
		Provider: string(c.provider),
		Message:  fmt.Sprintf("all %d %s keys were rejected", len(candidates), c.provider),
	})

	w.Header().Set("X-Key-Attempts", strconv.Itoa(len(candidates)))
	h.finish(w, string(c.provider), c.req.Stream, c.start,
		fmt.Errorf("%w by %s: %s", domain.ErrKeysRejected, c.provider, errorMessage(lastRejection)))
}

// relayStream writes chunks as they arrive. The response is committed at
// this point; a later upstream failure only ends the body.
func (h *Handler) relayStream(w http.ResponseWriter, c completion, record domain.APIKeyRecord, res provider.StreamResult) {
	flusher := w.(http.Flusher)

	metrics.IncrementActiveStreams()
	defer metrics.DecrementActiveStreams()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.record(string(c.provider), http.StatusOK, true, c.start)

	chunks := 0
	for chunk := range res.Chunks {
		if _, err := w.Write(chunk); err != nil {
			h.logger.Info("client went away during stream",
				"request_id", c.requestID,
				"chunks", chunks,
			)
			return
		}
		flusher.Flush()
		chunks++
	}

	if err := <-res.Errs; err != nil {
		metrics.RecordProviderError(string(c.provider), "stream_interrupted")
		h.logger.Error("stream terminated by upstream",
			"request_id", c.requestID,
			"provider", c.provider,
			"key_id", record.ID,
			"chunks", chunks,
			"error", err,
		)
		return
	}

	h.logger.Info("streaming request completed",
		"request_id", c.requestID,
		"user_id", c.userID,
		"provider", c.provider,
		"key_id", record.ID,
		"chunks", chunks,
		"latency_ms", time.Since(c.start).Milliseconds(),
	)
}

func (h *Handler) allow(ctx context.Context, w http.ResponseWriter, userID, requestID string) bool {
	if h.rateLimiter == nil || h.rateLimitRPM <= 0 {
		return true
	}

	allowed, remaining, resetAt, err := h.rateLimiter.Allow(ctx, userID, h.rateLimitRPM)
	if err != nil {
		h.logger.Error("rate limiter error, allowing request", "error", err, "request_id", requestID)
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.rateLimitRPM))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", resetAt.Format(time.RFC3339))

	if !allowed {
		metrics.RecordRateLimitHit()
		h.logger.Warn("rate limit exceeded", "user_id", userID, "request_id", requestID)
	}
	return allowed
}

// notify publishes in the background so a slow topic never delays the
// response.
func (h *Handler) notify(n notifications.Notification) {
	if h.notifier == nil {
		return
	}

	h.pending.Add(1)
	go func() {
		defer h.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.notifier.Send(ctx, n); err != nil {
			h.logger.Warn("failed to send notification", "type", n.Type, "key_id", n.KeyID, "error", err)
		}
	}()
}

func (h *Handler) finish(w http.ResponseWriter, providerID string, stream bool, start time.Time, err error) {
	status := writeErr(w, err)
	h.record(providerID, status, stream, start)
}

func (h *Handler) record(providerID string, status int, stream bool, start time.Time) {
	if providerID == "" {
		providerID = "none"
	}
	metrics.RecordRequest(providerID, strconv.Itoa(status), stream, time.Since(start).Seconds())
}

func providerErrorType(err error) string {
	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) && upErr.StatusCode != 0 {
		return "upstream_status"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "transport"
}
