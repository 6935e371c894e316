// Package middleware contains HTTP middleware for the scan API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/aiscan/internal/auth"
	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/handler"
	"github.com/DukeRupert/aiscan/internal/service"
)

// =============================================================================
// Auth Middleware Configuration
// =============================================================================

// AuthMiddleware turns bearer credentials into request identities and users.
type AuthMiddleware struct {
	verifier auth.TokenVerifier
	users    service.UserService
	logger   *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
func NewAuthMiddleware(verifier auth.TokenVerifier, users service.UserService, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		users:    users,
		logger:   logger,
	}
}

// =============================================================================
// Middleware Functions
// =============================================================================

// RequireIdentity verifies the bearer token and stores the identity in the
// context. No user row is touched, so signup can create it.
func (m *AuthMiddleware) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := m.verify(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.SetIdentity(r.Context(), identity)))
	})
}

// RequireUser verifies the bearer token and loads (or creates) the matching
// user. Requests without a valid credential get 401.
//
// Usage:
//
//	mux.Handle("GET /me", authMw.RequireUser(http.HandlerFunc(h.Me)))
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := m.verify(w, r)
		if !ok {
			return
		}

		user, err := m.users.EnsureUser(r.Context(), *identity)
		if err != nil {
			handler.ErrorResponse(w, r, m.logger, err)
			return
		}

		ctx := auth.SetIdentity(r.Context(), identity)
		ctx = auth.SetUser(ctx, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireEmailVerified rejects users whose email address is unverified.
// Must run after RequireUser.
func (m *AuthMiddleware) RequireEmailVerified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := auth.GetUser(r.Context())
		if user == nil {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}

		if !user.EmailVerified {
			m.logger.Debug("email not verified", "user_id", user.ID)
			handler.ErrorResponse(w, r, m.logger, domain.EmailNotVerified("middleware.RequireEmailVerified"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) verify(w http.ResponseWriter, r *http.Request) (*domain.Identity, bool) {
	token, err := auth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		handler.UnauthorizedResponse(w, r, m.logger)
		return nil, false
	}

	identity, err := m.verifier.Verify(r.Context(), token)
	if err != nil {
		m.logger.Debug("bearer token rejected", "error", err)
		handler.UnauthorizedResponse(w, r, m.logger)
		return nil, false
	}
	return identity, true
}

// =============================================================================
// Middleware Chaining Helpers
// =============================================================================

// Stack composes multiple middleware into a single middleware.
// Middleware are applied in order, so the first middleware wraps the second, etc.
//
// Usage:
//
//	protected := middleware.Stack(
//	    limits.Limit("scan", 10, time.Minute),
//	    authMw.RequireUser,
//	    authMw.RequireEmailVerified,
//	)
//	mux.Handle("POST /scan", protected(scanHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
