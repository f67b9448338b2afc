// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/carterperez-dev/templates/seller-billing/internal/admin"
	"github.com/carterperez-dev/templates/seller-billing/internal/auth"
	"github.com/carterperez-dev/templates/seller-billing/internal/billing"
	"github.com/carterperez-dev/templates/seller-billing/internal/config"
	"github.com/carterperez-dev/templates/seller-billing/internal/core"
	"github.com/carterperez-dev/templates/seller-billing/internal/health"
	"github.com/carterperez-dev/templates/seller-billing/internal/middleware"
	"github.com/carterperez-dev/templates/seller-billing/internal/processor"
	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
	"github.com/carterperez-dev/templates/seller-billing/internal/server"
)

const (
	drainDelay   = 5 * time.Second
	webhookRoute = "/v1/billing/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	var telemetry *core.Telemetry
	if cfg.Otel.Enabled {
		tel, telErr := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
		if telErr != nil {
			logger.Warn("failed to initialize telemetry", "error", telErr)
		} else {
			telemetry = tel
			logger.Info("OpenTelemetry tracer initialized",
				"endpoint", cfg.Otel.Endpoint,
			)
		}
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	redis, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	if bypass, rlsErr := db.BypassesRowSecurity(ctx); rlsErr != nil {
		logger.Warn("could not check profile store privileges", "error", rlsErr)
	} else if !bypass {
		logger.Warn("profile store role does not bypass row level security, billing writes may be rejected")
	}

	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	processorClient := processor.NewClient(cfg.Processor, httpClient)
	identityVerifier := auth.NewVerifier(cfg.Auth, httpClient)
	profileRepo := profile.NewRepository(db.DB)

	catalog := billing.NewCatalog(cfg.Processor, cfg.Billing.Amounts)
	billingSvc := billing.NewService(processorClient, profileRepo, catalog, billing.ServiceConfig{
		SiteURL:          cfg.App.SiteURL,
		SuccessPath:      cfg.Billing.SuccessPath,
		CancelPath:       cfg.Billing.CancelPath,
		PortalReturnPath: cfg.Billing.PortalReturnPath,
	})
	billingHandler := billing.NewHandler(
		billingSvc,
		processor.NewSignatureVerifier(
			cfg.Processor.WebhookSecret,
			cfg.Processor.WebhookTolerance,
		),
		billing.NewRedisLedger(redis.Client, cfg.Billing.EventTTL),
	)
	logger.Info("billing service initialized",
		"processor", cfg.Processor.BaseURL,
		"plans", len(cfg.Processor.PriceIDs),
	)

	healthHandler := health.NewHandler(
		health.Dependency{Name: "profile_store", Checker: db},
		health.Dependency{Name: "event_ledger", Checker: redis, Optional: true},
	)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		DBStats:    db.Stats,
		RedisStats: redis.PoolStats,
		DBPing:     db.Ping,
		RedisPing:  redis.Ping,
		Billing:    billingSvc,
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	router.Use(
		middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
			Limit: middleware.PerWindow(
				cfg.RateLimit.Requests,
				cfg.RateLimit.Burst,
				cfg.RateLimit.Window,
			),
			FailOpen:   true,
			BypassFunc: middleware.BypassPaths(webhookRoute),
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)

	authenticator := middleware.Authenticator(identityVerifier)
	adminOnly := middleware.RequireRole(billingSvc.RoleOf, profile.RoleAdmin)

	sellerLimit := middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
		Limit: middleware.PerMinute(
			cfg.RateLimit.SellerRequests,
			cfg.RateLimit.SellerBurst,
		),
		KeyFunc:  middleware.KeyBySeller,
		FailOpen: true,
	})

	router.Route("/v1", func(r chi.Router) {
		billingHandler.RegisterRoutes(r, authenticator, sellerLimit.Handler)
		adminHandler.RegisterRoutes(r, authenticator, adminOnly)
	})

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	sweeper := billing.NewSweeper(
		billingSvc,
		profileRepo,
		cfg.Billing.SweepInterval,
		cfg.Billing.SweepBatchSize,
	)
	go sweeper.Run(sweepCtx)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	stopSweeper()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("application stopped")
	return nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
