package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/handler"
	"github.com/DukeRupert/aiscan/internal/metrics"
	"github.com/DukeRupert/aiscan/internal/ratelimit"
)

// RateLimitMiddleware applies per-IP, per-endpoint limits ahead of handlers.
type RateLimitMiddleware struct {
	limiter    *ratelimit.Limiter
	trustProxy bool
	logger     *slog.Logger
	now        func() time.Time
}

// NewRateLimitMiddleware creates a new rate limit middleware.
func NewRateLimitMiddleware(limiter *ratelimit.Limiter, trustProxy bool, logger *slog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter:    limiter,
		trustProxy: trustProxy,
		logger:     logger,
		now:        time.Now,
	}
}

// Limit returns middleware admitting at most maxRequests per window for each
// client IP on the named endpoint.
func (m *RateLimitMiddleware) Limit(endpoint string, maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := handler.ClientIP(r, m.trustProxy)

			res, err := m.limiter.Check(r.Context(), clientIP, endpoint, maxRequests, window)
			if err != nil {
				handler.InternalErrorResponse(w, r, m.logger, err)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(res.Limit-res.Count, 0)))

			if !res.Allowed {
				m.logger.Warn("rate limit exceeded",
					"ip", clientIP,
					"endpoint", endpoint,
					"method", r.Method,
				)
				metrics.RateLimited(endpoint)

				retryAfter := int(res.RetryAfter(m.now()).Round(time.Second).Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
				handler.ErrorResponse(w, r, m.logger, domain.RateLimit("middleware.RateLimit"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
