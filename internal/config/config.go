package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded once at process start.
// It is treated as immutable after Load returns; gateway credentials are
// injected into the ECPay client instead of being read from the
// environment at call time.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string

	// Public base URLs used to assemble gateway return/redirect targets.
	BackendBaseURL  string
	FrontendBaseURL string

	// ECPay gateway settings. Defaults point at the public staging
	// environment and its published test credentials.
	ECPayServiceURL string
	ECPayMerchantID string
	ECPayHashKey    string
	ECPayHashIV     string

	// Fulfillment retry queue tuning.
	QueuePrefix       string
	QueueMaxAttempts  int
	QueueRetryBase    time.Duration
	QueueVisibility   time.Duration
	QueueDedupTTL     time.Duration
	MigrationsPath    string
	RateLimitPerMin   int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BackendBaseURL:     strings.TrimRight(valueOrDefault(k.String("BACKEND_URL"), "http://localhost:8080"), "/"),
		FrontendBaseURL:    strings.TrimRight(valueOrDefault(k.String("FRONTEND_URL"), "http://localhost:3000"), "/"),
		ECPayServiceURL:    strings.TrimRight(valueOrDefault(k.String("ECPAY_SERVICE_URL"), "https://payment-stage.ecpay.com.tw"), "/"),
		ECPayMerchantID:    valueOrDefault(k.String("ECPAY_MERCHANT_ID"), "2000132"),
		ECPayHashKey:       valueOrDefault(k.String("ECPAY_HASH_KEY"), "5294y06JbISpM5x9"),
		ECPayHashIV:        valueOrDefault(k.String("ECPAY_HASH_IV"), "v77hoKGq4kWxNNIS"),
		QueuePrefix:        valueOrDefault(k.String("QUEUE_PREFIX"), "snippy"),
		QueueMaxAttempts:   intOrDefault(k.Int("QUEUE_MAX_ATTEMPTS"), 10),
		QueueRetryBase:     parseDuration(k.String("QUEUE_RETRY_BASE"), "5s"),
		QueueVisibility:    parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
		QueueDedupTTL:      parseDuration(k.String("QUEUE_DEDUP_TTL"), "24h"),
		MigrationsPath:     valueOrDefault(k.String("MIGRATIONS_PATH"), "migrations"),
		RateLimitPerMin:    intOrDefault(k.Int("RATE_LIMIT_PER_MINUTE"), 120),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// CallbackURL is the endpoint ECPay posts asynchronous payment results to.
func (c *Config) CallbackURL() string {
	return c.BackendBaseURL + "/api/orders/payment/callback"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}
