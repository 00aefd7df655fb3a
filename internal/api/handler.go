package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/felipepmaragno/keyring-gateway/internal/auth"
	"github.com/felipepmaragno/keyring-gateway/internal/domain"
	"github.com/felipepmaragno/keyring-gateway/internal/keyring"
	"github.com/felipepmaragno/keyring-gateway/internal/notifications"
	"github.com/felipepmaragno/keyring-gateway/internal/ratelimit"
	"github.com/felipepmaragno/keyring-gateway/internal/router"
)

// KeyManager lists and marks the keys of a user's rotation pool.
// *keyring.Manager satisfies it.
type KeyManager interface {
	ListUsableKeys(ctx context.Context, userID string, provider domain.ProviderID) ([]keyring.Candidate, error)
	MarkUsed(ctx context.Context, record domain.APIKeyRecord) error
}

type HandlerConfig struct {
	Keys         KeyManager
	Router       *router.Router
	GatewayKey   *auth.GatewayKey
	RateLimiter  ratelimit.RateLimiter
	RateLimitRPM int
	Notifier     notifications.Notifier
	Checkers     []HealthChecker
	CheckTimeout time.Duration
	CORSOrigins  []string
	Logger       *slog.Logger
	Version      string
}

type Handler struct {
	keys         KeyManager
	router       *router.Router
	gatewayKey   *auth.GatewayKey
	rateLimiter  ratelimit.RateLimiter
	rateLimitRPM int
	notifier     notifications.Notifier
	checkers     []HealthChecker
	checkTimeout time.Duration
	logger       *slog.Logger
	version      string

	pending sync.WaitGroup
	mux     http.Handler
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checkTimeout := cfg.CheckTimeout
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}

	h := &Handler{
		keys:         cfg.Keys,
		router:       cfg.Router,
		gatewayKey:   cfg.GatewayKey,
		rateLimiter:  cfg.RateLimiter,
		rateLimitRPM: cfg.RateLimitRPM,
		notifier:     cfg.Notifier,
		checkers:     cfg.Checkers,
		checkTimeout: checkTimeout,
		logger:       logger,
		version:      cfg.Version,
	}
	h.mux = newRouter(h, cfg.CORSOrigins)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Wait blocks until background notifications have been sent.
func (h *Handler) Wait() {
	h.pending.Wait()
}

func (h *Handler) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": h.router.ListProviders(),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ids := make([]domain.ProviderID, 0, 2)
	for _, p := range h.router.ListProviders() {
		ids = append(ids, p.ID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   h.version,
		"providers": ids,
	})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
