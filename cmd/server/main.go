package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/aiscan/internal"
	"github.com/DukeRupert/aiscan/internal/ai"
	"github.com/DukeRupert/aiscan/internal/ai/anthropic"
	"github.com/DukeRupert/aiscan/internal/ai/inference"
	"github.com/DukeRupert/aiscan/internal/ai/mock"
	"github.com/DukeRupert/aiscan/internal/auth"
	"github.com/DukeRupert/aiscan/internal/billing"
	"github.com/DukeRupert/aiscan/internal/metrics"
	"github.com/DukeRupert/aiscan/internal/ratelimit"
	"github.com/DukeRupert/aiscan/internal/repository"
	"github.com/DukeRupert/aiscan/internal/service"
	"github.com/DukeRupert/aiscan/internal/storage"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 30 * time.Second
	memoryPruneEvery = time.Minute
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	store := repository.NewStore(db)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================

	verifier, err := auth.NewVerifier(ctx, auth.VerifierConfig{
		JWKSURL:  cfg.AuthJWKSURL,
		Secret:   cfg.AuthJWTSecret,
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
	})
	if err != nil {
		return fmt.Errorf("auth verifier initialization failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	limiterStore, err := newRateLimitStore(gctx, cfg, store, g, logger)
	if err != nil {
		return err
	}
	limiter := ratelimit.New(limiterStore, logger)

	provider, err := newDetector(cfg, logger)
	if err != nil {
		return fmt.Errorf("ai provider initialization failed: %w", err)
	}
	detector := ai.NewFallbackDetector(provider, logger, metrics.DetectionOutcome).
		WithTimeout(cfg.DetectionTimeout)

	images, err := storage.New(storage.Config{
		Provider: cfg.StorageProvider,
		Local:    storage.LocalConfig{BasePath: cfg.LocalStoragePath},
		R2: storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// billingService stays nil without Stripe keys; billing routes answer 503.
	var billingService billing.Service
	if cfg.BillingEnabled() {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			StarterPriceID: cfg.StripeStarterPriceID,
			ProPriceID:     cfg.StripeProPriceID,
			PowerPriceID:   cfg.StripePowerPriceID,
			CreditPriceID:  cfg.StripeCreditPriceID,
		})
		logger.Info("Stripe billing enabled")
	} else {
		logger.Warn("Stripe billing not configured, billing routes disabled")
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	userService := service.NewUserService(store, logger)
	scanService := service.NewScanService(service.ScanServiceConfig{
		Entitlements:   service.NewEntitlementService(store, logger),
		Recorder:       service.NewUsageRecorder(store, logger),
		Detector:       detector,
		Preparer:       service.NewImagePreparer(),
		Storage:        images,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)

	var billingEvents service.BillingEventService
	if billingService != nil {
		billingEvents = service.NewBillingEventService(store, billingService, logger)
	}

	root := newRouter(routerDeps{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Verifier:      verifier,
		Limiter:       limiter,
		Users:         userService,
		Scans:         scanService,
		Billing:       billingService,
		BillingEvents: billingEvents,
	})

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, initiating graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("Server stopped")
		return nil
	})

	return g.Wait()
}

// newRateLimitStore picks the window store. The memory store is pruned by a
// goroutine tied to g.
func newRateLimitStore(ctx context.Context, cfg *internal.Config, store repository.Store, g *errgroup.Group, logger *slog.Logger) (ratelimit.Store, error) {
	switch cfg.RateLimitBackend {
	case "redis":
		client, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			return client.Close()
		})
		logger.Info("Rate limiting backed by redis")
		return ratelimit.NewRedisStore(client), nil
	case "memory":
		mem := ratelimit.NewMemoryStore()
		g.Go(func() error {
			// Windows younger than the longest configured one may still count
			mem.RunCleanup(ctx, memoryPruneEvery, cfg.LongestRateWindow(), logger)
			return nil
		})
		logger.Warn("Rate limiting is in-process; limits are per instance")
		return mem, nil
	default:
		logger.Info("Rate limiting backed by postgres")
		return ratelimit.NewPostgresStore(store), nil
	}
}

func newDetector(cfg *internal.Config, logger *slog.Logger) (ai.Detector, error) {
	retry := ai.ProviderConfig{
		MaxRetries:     cfg.AIMaxRetries,
		RetryBaseDelay: cfg.AIRetryBaseDelay,
		RequestTimeout: cfg.AIRequestTimeout,
	}

	switch cfg.AIProvider {
	case "inference":
		return inference.New(inference.Config{
			URL:            cfg.InferenceURL,
			APIKey:         cfg.InferenceAPIKey,
			AILabel:        cfg.InferenceAILabel,
			ProviderConfig: retry,
		}, logger)
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:         cfg.AnthropicAPIKey,
			Model:          cfg.AnthropicModel,
			ProviderConfig: retry,
		}, logger)
	default:
		logger.Warn("Using mock AI provider, scores are synthetic")
		return mock.New(logger), nil
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
