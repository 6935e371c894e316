package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ScanResponseHeadroom is reserved inside the HTTP write timeout for
// reading the upload, archiving, recording and writing the scan response.
const ScanResponseHeadroom = 15 * time.Second

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Application base URL (checkout return links)
	BaseURL string

	// Identity verification (external auth service JWTs)
	AuthJWKSURL   string // JWKS endpoint; takes precedence over AuthJWTSecret
	AuthJWTSecret string // Shared HMAC secret (HS256)
	AuthIssuer    string // Optional expected "iss"
	AuthAudience  string // Optional expected "aud"

	// Storage Configuration
	StorageProvider string // "none", "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string

	// AI Provider Configuration
	AIProvider       string // "mock", "inference" or "anthropic"
	InferenceURL     string
	InferenceAPIKey  string
	InferenceAILabel string // Label carrying the AI-generated probability in label/score responses
	AnthropicAPIKey  string
	AnthropicModel   string
	AIMaxRetries     int
	AIRetryBaseDelay time.Duration
	AIRequestTimeout time.Duration
	DetectionTimeout time.Duration // Overall detection budget per scan, retries included

	// HTTP server
	HTTPWriteTimeout time.Duration

	// Upload limits
	MaxUploadBytes int64

	// Rate limiting
	TrustProxyHeaders  bool   // Read client IPs from X-Forwarded-For / X-Real-IP
	RateLimitBackend   string // "postgres", "redis" or "memory"
	RedisURL           string
	ScanRateLimit      int
	ScanRateWindow     time.Duration
	SignupRateLimit    int
	SignupRateWindow   time.Duration
	CheckoutRateLimit  int
	CheckoutRateWindow time.Duration

	// Stripe Billing Configuration
	// In development, billing handlers respond 503 if these are empty.
	StripeSecretKey     string
	StripeWebhookSecret string

	// Stripe Price IDs
	StripeStarterPriceID string
	StripeProPriceID     string
	StripePowerPriceID   string
	StripeCreditPriceID  string // One-off credit pack

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		BaseURL: getEnv("BASE_URL", "http://localhost:3000"),

		AuthJWKSURL:   getEnv("AUTH_JWKS_URL", ""),
		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		AuthIssuer:    getEnv("AUTH_ISSUER", ""),
		AuthAudience:  getEnv("AUTH_AUDIENCE", ""),

		StorageProvider:  getEnv("STORAGE_PROVIDER", "none"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),

		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),

		AIProvider:       getEnv("AI_PROVIDER", "mock"),
		InferenceURL:     getEnv("INFERENCE_URL", ""),
		InferenceAPIKey:  getEnv("INFERENCE_API_KEY", ""),
		InferenceAILabel: getEnv("INFERENCE_AI_LABEL", "artificial"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		AIMaxRetries:     getEnvInt("AI_MAX_RETRIES", 3),
		AIRetryBaseDelay: getEnvDuration("AI_RETRY_BASE_DELAY", 1*time.Second),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 30*time.Second),
		DetectionTimeout: getEnvDuration("DETECTION_TIMEOUT", 45*time.Second),

		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 90*time.Second),

		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),

		TrustProxyHeaders:  getEnvBool("TRUST_PROXY_HEADERS", false),
		RateLimitBackend:   getEnv("RATE_LIMIT_BACKEND", "postgres"),
		RedisURL:           getEnv("REDIS_URL", ""),
		ScanRateLimit:      getEnvInt("SCAN_RATE_LIMIT", 10),
		ScanRateWindow:     getEnvDuration("SCAN_RATE_WINDOW", time.Minute),
		SignupRateLimit:    getEnvInt("SIGNUP_RATE_LIMIT", 5),
		SignupRateWindow:   getEnvDuration("SIGNUP_RATE_WINDOW", time.Hour),
		CheckoutRateLimit:  getEnvInt("CHECKOUT_RATE_LIMIT", 10),
		CheckoutRateWindow: getEnvDuration("CHECKOUT_RATE_WINDOW", 10*time.Minute),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		StripeStarterPriceID: getEnv("STRIPE_STARTER_PRICE_ID", ""),
		StripeProPriceID:     getEnv("STRIPE_PRO_PRICE_ID", ""),
		StripePowerPriceID:   getEnv("STRIPE_POWER_PRICE_ID", ""),
		StripeCreditPriceID:  getEnv("STRIPE_CREDIT_PRICE_ID", ""),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.AuthJWKSURL == "" && cfg.AuthJWTSecret == "" {
		return fmt.Errorf("one of AUTH_JWKS_URL or AUTH_JWT_SECRET is required")
	}

	switch cfg.StorageProvider {
	case "none", "local":
	case "r2":
		if cfg.R2AccountID == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	default:
		return fmt.Errorf("STORAGE_PROVIDER must be one of 'none', 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	switch cfg.AIProvider {
	case "mock":
	case "inference":
		if cfg.InferenceURL == "" {
			return fmt.Errorf("INFERENCE_URL is required when AI_PROVIDER is 'inference'")
		}
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is 'anthropic'")
		}
	default:
		return fmt.Errorf("AI_PROVIDER must be one of 'mock', 'inference' or 'anthropic', got: %s", cfg.AIProvider)
	}

	switch cfg.RateLimitBackend {
	case "postgres", "memory":
	case "redis":
		if cfg.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND is 'redis'")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be one of 'postgres', 'redis' or 'memory', got: %s", cfg.RateLimitBackend)
	}

	if cfg.ScanRateLimit < 1 || cfg.SignupRateLimit < 1 || cfg.CheckoutRateLimit < 1 {
		return fmt.Errorf("rate limits must be at least 1")
	}
	if cfg.ScanRateWindow <= 0 || cfg.SignupRateWindow <= 0 || cfg.CheckoutRateWindow <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}

	// A scan is charged before its response is written, so detection has to
	// give up while the write deadline still leaves room to answer.
	if cfg.DetectionTimeout <= 0 {
		return fmt.Errorf("DETECTION_TIMEOUT must be positive")
	}
	if cfg.DetectionTimeout+ScanResponseHeadroom > cfg.HTTPWriteTimeout {
		return fmt.Errorf("DETECTION_TIMEOUT (%s) plus %s headroom must not exceed HTTP_WRITE_TIMEOUT (%s)",
			cfg.DetectionTimeout, ScanResponseHeadroom, cfg.HTTPWriteTimeout)
	}

	return nil
}

// LongestRateWindow is the largest configured rate-limit window. Window
// records younger than this may still be live.
func (cfg *Config) LongestRateWindow() time.Duration {
	return max(cfg.ScanRateWindow, cfg.SignupRateWindow, cfg.CheckoutRateWindow)
}

// BillingEnabled reports whether Stripe credentials are configured.
func (cfg *Config) BillingEnabled() bool {
	return cfg.StripeSecretKey != "" && cfg.StripeWebhookSecret != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}
