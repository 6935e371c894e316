package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
)

// Detector scores how likely an image is to be AI-generated.
type Detector interface {
	// DetectImage returns a score in [0,1]; higher means more likely generated.
	DetectImage(ctx context.Context, params DetectParams) (*Detection, error)
}

// DetectParams contains parameters for a detection request
type DetectParams struct {
	ImageData   []byte    // Image bytes, already prepared for transport
	ContentType string    // MIME type (e.g., "image/jpeg")
	UserID      uuid.UUID // For provider-side tracking and logs
}

// Detection is a provider's verdict on one image
type Detection struct {
	Score    float64       // Probability the image is AI-generated
	Model    string        // Model or provider that produced the score
	Duration time.Duration // Request duration
}

// ProviderConfig contains common configuration for AI providers
type ProviderConfig struct {
	MaxRetries     int           // Maximum attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// WithDefaults fills zero fields.
func (c ProviderConfig) WithDefaults() ProviderConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

// AIThreshold is the fixed cut-off above which an image is classed as AI.
const AIThreshold = 0.5

// FallbackScore is reported when no provider verdict is available.
const FallbackScore = 0.5

// IsAI classifies a score. Exactly 0.5 is not AI.
func IsAI(score float64) bool {
	return score > AIThreshold
}

// ClampScore forces a score into [0,1]. NaN maps to the fallback.
func ClampScore(score float64) float64 {
	switch {
	case math.IsNaN(score):
		return FallbackScore
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIInvalidImage indicates the image format or content is invalid
	EAIInvalidImage = errors.New("invalid image format or content")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAIMalformedResponse indicates the provider answered with no usable score
	EAIMalformedResponse = errors.New("ai provider returned a malformed response")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}

// Retry calls fn until it succeeds, returns a non-retryable error, or runs
// out of attempts. Delays grow as base * 2^(attempt-1).
func Retry(ctx context.Context, cfg ProviderConfig, logger *slog.Logger, fn func(ctx context.Context) error) error {
	cfg = cfg.WithDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt >= cfg.MaxRetries {
			break
		}

		delay := cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
		logger.Info("Retrying AI request", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
