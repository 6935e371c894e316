package main

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/aiscan/internal"
	"github.com/DukeRupert/aiscan/internal/auth"
	"github.com/DukeRupert/aiscan/internal/billing"
	"github.com/DukeRupert/aiscan/internal/handler"
	"github.com/DukeRupert/aiscan/internal/metrics"
	"github.com/DukeRupert/aiscan/internal/middleware"
	"github.com/DukeRupert/aiscan/internal/ratelimit"
	"github.com/DukeRupert/aiscan/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routerDeps carries everything the HTTP surface is assembled from.
// Billing and BillingEvents are nil when Stripe is not configured.
type routerDeps struct {
	Config        *internal.Config
	Logger        *slog.Logger
	DB            handler.Pinger
	Verifier      auth.TokenVerifier
	Limiter       *ratelimit.Limiter
	Users         service.UserService
	Scans         service.ScanService
	Billing       billing.Service
	BillingEvents service.BillingEventService
}

// newRouter registers every route and wraps the mux in the global
// middleware. Protected routes verify identity before they are rate
// limited, so unauthenticated traffic is rejected with 401 and never spends
// a caller's budget.
func newRouter(d routerDeps) http.Handler {
	cfg, logger := d.Config, d.Logger

	authMw := middleware.NewAuthMiddleware(d.Verifier, d.Users, logger)
	rateMw := middleware.NewRateLimitMiddleware(d.Limiter, cfg.TrustProxyHeaders, logger)

	scanStack := middleware.Stack(
		authMw.RequireUser,
		authMw.RequireEmailVerified,
		rateMw.Limit("scan", cfg.ScanRateLimit, cfg.ScanRateWindow),
	)
	signupStack := middleware.Stack(
		authMw.RequireIdentity,
		rateMw.Limit("signup", cfg.SignupRateLimit, cfg.SignupRateWindow),
	)
	checkoutStack := middleware.Stack(
		authMw.RequireUser,
		rateMw.Limit("checkout", cfg.CheckoutRateLimit, cfg.CheckoutRateWindow),
	)

	mux := http.NewServeMux()

	handler.NewHealthHandler(d.DB, logger).RegisterRoutes(mux)
	handler.NewScanHandler(d.Scans, cfg.MaxUploadBytes, cfg.TrustProxyHeaders, logger).RegisterRoutes(mux, scanStack)
	handler.NewAccountHandler(d.Users, logger).RegisterRoutes(mux, signupStack, authMw.RequireUser)
	handler.NewBillingHandler(d.Billing, d.Users, cfg.BaseURL, logger).RegisterRoutes(mux, checkoutStack)
	handler.NewWebhookHandler(d.Billing, d.BillingEvents, logger).RegisterRoutes(mux)

	// Metrics endpoint, protected by basic auth when credentials are set
	if cfg.MetricsUsername != "" && cfg.MetricsPassword != "" {
		basicAuth := middleware.NewBasicAuthMiddleware("metrics", cfg.MetricsUsername, cfg.MetricsPassword, logger)
		mux.Handle("GET /metrics", basicAuth.Handler(promhttp.Handler()))
	} else {
		logger.Warn("METRICS_USERNAME/METRICS_PASSWORD not set, /metrics is unprotected")
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	securityMw := middleware.NewSecurityHeadersMiddleware(cfg.Env != "development")
	loggingMw := middleware.NewRequestLoggingMiddleware(logger, cfg.TrustProxyHeaders)
	return middleware.Stack(securityMw.Handler, loggingMw.Handler, metrics.Middleware)(mux)
}
