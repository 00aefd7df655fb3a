package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felipepmaragno/keyring-gateway/internal/api"
	"github.com/felipepmaragno/keyring-gateway/internal/auth"
	"github.com/felipepmaragno/keyring-gateway/internal/config"
	"github.com/felipepmaragno/keyring-gateway/internal/crypto"
	"github.com/felipepmaragno/keyring-gateway/internal/keyring"
	"github.com/felipepmaragno/keyring-gateway/internal/metrics"
	"github.com/felipepmaragno/keyring-gateway/internal/notifications"
	"github.com/felipepmaragno/keyring-gateway/internal/provider/anthropic"
	"github.com/felipepmaragno/keyring-gateway/internal/provider/openai"
	"github.com/felipepmaragno/keyring-gateway/internal/ratelimit"
	"github.com/felipepmaragno/keyring-gateway/internal/repository"
	"github.com/felipepmaragno/keyring-gateway/internal/router"
	"github.com/felipepmaragno/keyring-gateway/internal/secrets"
	"github.com/felipepmaragno/keyring-gateway/internal/telemetry"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting keyring gateway", "addr", cfg.Addr, "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.ServiceName, version, cfg.OTLPEndpoint)
	if err != nil {
		slog.Warn("failed to init tracing, continuing without it", "error", err)
	}

	hostname, _ := os.Hostname()
	metrics.InitInstanceMetrics(hostname, version)

	secret, err := encryptionSecret(ctx, cfg)
	if err != nil {
		slog.Error("failed to resolve encryption key", "error", err)
		os.Exit(1)
	}
	cipher, err := crypto.NewCipher(secret)
	if err != nil {
		slog.Error("invalid encryption key", "error", err)
		os.Exit(1)
	}

	var keyRepo repository.KeyRepository
	var checkers []api.HealthChecker

	if cfg.UseSupabase() {
		supabase := repository.NewSupabaseKeyRepository(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey)
		keyRepo = supabase
		checkers = append(checkers, supabase)
		slog.Info("using supabase key store", "url", cfg.SupabaseURL)
	} else {
		db, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		pg := repository.NewPostgresKeyRepository(db)
		defer pg.Close()
		keyRepo = pg
		checkers = append(checkers, api.NewPostgresHealthChecker(pg.DB()))
		slog.Info("using postgres key store")
	}

	var rateLimiter ratelimit.RateLimiter
	if cfg.RateLimitRPM > 0 {
		if cfg.RedisURL != "" {
			redisLimiter, err := ratelimit.NewRedisRateLimiter(cfg.RedisURL)
			if err != nil {
				slog.Error("failed to connect to redis", "error", err)
				os.Exit(1)
			}
			defer redisLimiter.Close()
			rateLimiter = redisLimiter
			checkers = append(checkers, api.NewRedisHealthChecker(redisLimiter.Client()))
			slog.Info("using redis rate limiter", "rpm", cfg.RateLimitRPM)
		} else {
			memLimiter := ratelimit.NewInMemoryRateLimiter()
			go memLimiter.RunSweeper(ctx, time.Minute)
			rateLimiter = memLimiter
			slog.Info("using in-memory rate limiter", "rpm", cfg.RateLimitRPM)
		}
	}

	var notifier notifications.Notifier
	if cfg.KeyEventsTopicARN != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.KeyEventsTopicARN)
		if err != nil {
			slog.Warn("failed to init sns notifier, key events disabled", "error", err)
			notifier = nil
		} else {
			slog.Info("publishing key events", "topic", cfg.KeyEventsTopicARN)
		}
	}

	gatewayKey := auth.NewGatewayKey(cfg.GatewayAPIKey, cfg.GatewayAPIKeyHash)
	if !gatewayKey.Enabled() {
		slog.Warn("gateway auth disabled: set GATEWAY_API_KEY or GATEWAY_API_KEY_HASH")
	}

	providerRouter := router.New(
		openai.New(cfg.OpenAIBaseURL),
		anthropic.New(cfg.AnthropicBaseURL),
	)

	handler := api.NewHandler(api.HandlerConfig{
		Keys:         keyring.NewManager(keyRepo, cipher, slog.Default()),
		Router:       providerRouter,
		GatewayKey:   gatewayKey,
		RateLimiter:  rateLimiter,
		RateLimitRPM: cfg.RateLimitRPM,
		Notifier:     notifier,
		Checkers:     checkers,
		CORSOrigins:  cfg.CORSOrigins,
		Logger:       slog.Default(),
		Version:      version,
	})

	// No WriteTimeout: streamed completions can run for minutes.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	handler.Wait()

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}

	slog.Info("server stopped")
}

// encryptionSecret prefers Secrets Manager when a secret id is configured.
func encryptionSecret(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.EncryptionKeySecretID == "" {
		return cfg.EncryptionKey, nil
	}

	store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
	if err != nil {
		return "", err
	}
	return secrets.ResolveEncryptionKey(ctx, store, cfg.EncryptionKeySecretID)
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
