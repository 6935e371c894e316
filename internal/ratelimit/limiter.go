// Package ratelimit counts requests per client IP and endpoint.
//
// Windows use lookback semantics: a check finds the most recent window that
// started within the last `window` duration. If none exists a new one opens
// with count 1; otherwise the count is incremented while it stays below the
// maximum. A window therefore runs from its first request, and a burst at the
// end of one window followed by a burst at the start of the next can admit
// close to twice the maximum within one window-length span. That behavior is
// accepted.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Window is a persisted request counter for one (ip, endpoint) pair.
type Window struct {
	ID    int64
	Count int
	Start time.Time
}

// Store persists windows. Implementations must make IncrementWindow a
// single conditional write so concurrent requests cannot push the count past
// max.
type Store interface {
	// LatestWindow returns the newest window for the key that started at or
	// after since.
	LatestWindow(ctx context.Context, ip, endpoint string, since time.Time) (Window, bool, error)

	// CreateWindow opens a window with count 1 starting at start.
	CreateWindow(ctx context.Context, ip, endpoint string, start time.Time, window time.Duration) (Window, error)

	// IncrementWindow adds one to the window when its count is below max.
	// It returns the new count and whether the increment happened.
	IncrementWindow(ctx context.Context, ip, endpoint string, w Window, max int) (int, bool, error)
}

// Result is the outcome of a Check.
type Result struct {
	Allowed bool
	Count   int
	Limit   int
	ResetAt time.Time
}

// RetryAfter is the time left until the current window lapses.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}

// Limiter applies per-endpoint limits against a Store.
type Limiter struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Check records a request from ip against endpoint and reports whether it is
// within maxRequests for the lookback window. Denied requests are not counted.
func (l *Limiter) Check(ctx context.Context, ip, endpoint string, maxRequests int, window time.Duration) (Result, error) {
	if maxRequests < 1 {
		return Result{}, fmt.Errorf("ratelimit: maxRequests must be positive, got %d", maxRequests)
	}

	now := l.now()
	since := now.Add(-window)

	current, ok, err := l.store.LatestWindow(ctx, ip, endpoint, since)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: load window: %w", err)
	}

	if !ok {
		created, err := l.store.CreateWindow(ctx, ip, endpoint, now, window)
		if err != nil {
			return Result{}, fmt.Errorf("ratelimit: create window: %w", err)
		}
		return Result{
			Allowed: true,
			Count:   created.Count,
			Limit:   maxRequests,
			ResetAt: created.Start.Add(window),
		}, nil
	}

	resetAt := current.Start.Add(window)

	count, incremented, err := l.store.IncrementWindow(ctx, ip, endpoint, current, maxRequests)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: increment window: %w", err)
	}
	if !incremented {
		l.logger.Debug("rate limit window full",
			"ip", ip,
			"endpoint", endpoint,
			"count", current.Count,
			"max", maxRequests,
		)
		return Result{
			Allowed: false,
			Count:   current.Count,
			Limit:   maxRequests,
			ResetAt: resetAt,
		}, nil
	}

	return Result{
		Allowed: true,
		Count:   count,
		Limit:   maxRequests,
		ResetAt: resetAt,
	}, nil
}
