package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultCORSOrigin = "http://localhost:3000"

type Config struct {
	Addr     string
	LogLevel string

	// Key store
	SupabaseURL            string
	SupabaseServiceRoleKey string
	DatabaseURL            string

	// Gateway auth; both empty leaves the gateway open.
	GatewayAPIKey     string
	GatewayAPIKeyHash string

	// Shared secret used to open stored API keys. When EncryptionKeySecretID
	// is set the secret is fetched from AWS Secrets Manager at startup.
	EncryptionKey         string
	EncryptionKeySecretID string

	OpenAIBaseURL    string
	AnthropicBaseURL string
	CORSOrigins      []string

	RedisURL     string
	RateLimitRPM int

	OTLPEndpoint      string
	AWSRegion         string
	KeyEventsTopicARN string

	ShutdownTimeout time.Duration
}

var ErrNoKeyStore = errors.New("no key store configured: set SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY, or DATABASE_URL")

// Load builds the configuration from the environment, reading a .env file
// first when one is present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	cfg := &Config{
		Addr:                   listenAddr(),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		SupabaseURL:            strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		GatewayAPIKey:          getEnv("GATEWAY_API_KEY", ""),
		GatewayAPIKeyHash:      getEnv("GATEWAY_API_KEY_HASH", ""),
		EncryptionKey:          getEnv("AI_GATEWAY_ENCRYPTION_KEY", getEnv("ENCRYPTION_KEY", "")),
		EncryptionKeySecretID:  getEnv("ENCRYPTION_KEY_SECRET_ID", ""),
		OpenAIBaseURL:          strings.TrimRight(getEnv("OPENAI_API_BASE", "https://api.openai.com/v1"), "/"),
		AnthropicBaseURL:       strings.TrimRight(getEnv("ANTHROPIC_API_BASE", "https://api.anthropic.com"), "/"),
		CORSOrigins:            parseList(getEnv("CORS_ORIGINS", defaultCORSOrigin)),
		RedisURL:               getEnv("REDIS_URL", ""),
		RateLimitRPM:           getIntEnv("RATE_LIMIT_RPM", 0),
		OTLPEndpoint:           getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:              getEnv("AWS_REGION", ""),
		KeyEventsTopicARN:      getEnv("KEY_EVENTS_TOPIC_ARN", ""),
		ShutdownTimeout:        getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{defaultCORSOrigin}
	}

	return cfg, nil
}

// Validate reports configuration that would make every request fail.
func (c *Config) Validate() error {
	if !c.UseSupabase() && c.DatabaseURL == "" {
		return ErrNoKeyStore
	}
	return nil
}

func (c *Config) UseSupabase() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceRoleKey != ""
}

func (c *Config) GatewayAuthEnabled() bool {
	return c.GatewayAPIKey != "" || c.GatewayAPIKeyHash != ""
}

func listenAddr() string {
	if addr := os.Getenv("ADDR"); addr != "" {
		return addr
	}
	return ":" + getEnv("PORT", "8000")
}

func parseList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
