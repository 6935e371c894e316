package ai

import (
	"context"
	"log/slog"
	"time"
)

// FallbackDetector wraps a Detector so callers always get a score. Provider
// failures are logged and replaced with FallbackScore.
type FallbackDetector struct {
	detector Detector
	logger   *slog.Logger
	onResult func(outcome string)
	timeout  time.Duration
}

// NewFallbackDetector wraps d. onResult, if non-nil, receives "ok" or
// "fallback" for every call.
func NewFallbackDetector(d Detector, logger *slog.Logger, onResult func(outcome string)) *FallbackDetector {
	return &FallbackDetector{detector: d, logger: logger, onResult: onResult}
}

// WithTimeout bounds each Detect call, retries included. A call still
// running at the deadline yields FallbackScore. Zero means no bound.
func (f *FallbackDetector) WithTimeout(d time.Duration) *FallbackDetector {
	f.timeout = d
	return f
}

// Detect returns the provider score clamped to [0,1], or FallbackScore and
// false when the provider failed or ran past the timeout.
func (f *FallbackDetector) Detect(ctx context.Context, params DetectParams) (float64, bool) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	detection, err := f.detector.DetectImage(ctx, params)
	if err != nil || detection == nil {
		f.logger.Warn("detection failed, using fallback score",
			"error", err,
			"user_id", params.UserID,
			"fallback", FallbackScore,
		)
		f.report("fallback")
		return FallbackScore, false
	}

	f.logger.Debug("detection completed",
		"user_id", params.UserID,
		"model", detection.Model,
		"score", detection.Score,
		"duration", detection.Duration,
	)
	f.report("ok")
	return ClampScore(detection.Score), true
}

func (f *FallbackDetector) report(outcome string) {
	if f.onResult != nil {
		f.onResult(outcome)
	}
}
