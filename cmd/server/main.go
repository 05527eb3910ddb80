package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/shoplocal/internal"
	"github.com/DukeRupert/shoplocal/internal/backend"
	"github.com/DukeRupert/shoplocal/internal/catalog"
	"github.com/DukeRupert/shoplocal/internal/handler"
	"github.com/DukeRupert/shoplocal/internal/jobs"
	"github.com/DukeRupert/shoplocal/internal/metrics"
	"github.com/DukeRupert/shoplocal/internal/middleware"
	"github.com/DukeRupert/shoplocal/internal/service"
	"github.com/DukeRupert/shoplocal/internal/storage"
	"github.com/DukeRupert/shoplocal/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	// Quota catalog
	cat, err := loadCatalog(cfg.QuotaCatalogPath)
	if err != nil {
		return fmt.Errorf("catalog initialization failed: %w", err)
	}
	logger.Info("Quota catalog loaded", "version", cat.Version(), "path", cfg.QuotaCatalogPath)

	// Stores
	stores, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("backend initialization failed: %w", err)
	}
	defer stores.Close()
	logger.Info("Stores ready", "backend", cfg.StoreBackend)

	// Export storage
	exportStorage, err := storage.New(storage.Config{
		Provider: cfg.StorageProvider,
		Local: storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		},
		R2: storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
			Endpoint:        cfg.R2Endpoint,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// Initialize services
	subscriptionService := service.NewSubscriptionService(stores.Subscriptions, logger)
	quotaService := service.NewQuotaService(stores.Usage, subscriptionService, cat, logger,
		service.WithLocation(cfg.QuotaTimezone),
	)
	usageStatsService := service.NewUsageStatsService(stores.Stats, cfg.QuotaTimezone, logger)

	// Initialize middleware
	isSecure := cfg.IsProduction()
	limiter := middleware.NewRateLimiter(cfg.APIRateLimit, cfg.APIRateWindow)
	go limiter.Run(ctx)
	rateLimitMw := middleware.NewRateLimitMiddleware(limiter, logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	if !metricsAuth.Enabled() {
		logger.Warn("METRICS_USERNAME/METRICS_PASSWORD not set; /metrics is unprotected")
	}
	gate := middleware.NewQuotaGate(quotaService, logger)

	// Initialize handlers
	quotaHandler := handler.NewQuotaHandler(quotaService, logger)
	usageHandler := handler.NewUsageHandler(usageStatsService, cfg.QuotaTimezone, logger)
	actionHandler := handler.NewActionHandler(usageStatsService, logger)
	checks := make(map[string]handler.Pinger, len(stores.Checks))
	for name, fn := range stores.Checks {
		checks[name] = handler.PingFunc(fn)
	}
	healthHandler := handler.NewHealthHandler(checks, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	mux.Handle("GET /health", healthHandler)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	quotaHandler.RegisterRoutes(mux)
	usageHandler.RegisterRoutes(mux)

	// Gated actions: checked before the handler, charged after a 2xx.
	mux.Handle("POST /api/users/{userID}/actions/{type}",
		gate.Require(middleware.PathTarget("userID", "type"))(http.HandlerFunc(actionHandler.Perform)))

	// Local exports are served under the metrics credentials.
	if cfg.StorageProvider == storage.ProviderLocal {
		files := http.StripPrefix("/files/", http.FileServer(http.Dir(cfg.LocalStoragePath)))
		mux.Handle("GET /files/", metricsAuth.Handler(files))
	}

	// Outermost first: metrics sees every response, including rate-limited ones.
	var root http.Handler = mux
	root = rateLimitMw.Limit(root)
	root = securityMw.Handler(root)
	root = loggingMw.Handler(root)
	root = metrics.Middleware(root)

	// ==========================================================================
	// Background worker
	// ==========================================================================

	var jobWorker *worker.Worker
	if cfg.WorkerEnabled {
		jobWorker, err = worker.New(stores.Queue, worker.Config{
			Concurrency:  cfg.WorkerConcurrency,
			PollInterval: cfg.WorkerPollInterval,
			JobTimeout:   cfg.WorkerJobTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		jobWorker.Register(jobs.NewSweepStaleQuotasHandler(quotaService, cfg.SweepBatchSize, logger))
		jobWorker.Register(jobs.NewExportUsageStatsHandler(usageStatsService, exportStorage, logger))
		jobWorker.Start(ctx)

		scheduler := jobs.NewScheduler(stores.Queue, jobs.SchedulerConfig{
			SweepInterval:  cfg.SweepInterval,
			SweepBatchSize: cfg.SweepBatchSize,
			ExportInterval: cfg.ExportInterval,
			Location:       cfg.QuotaTimezone,
		}, logger)
		go scheduler.Run(ctx)
	} else {
		logger.Info("Worker disabled")
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if jobWorker != nil {
		jobWorker.Stop()
	}

	logger.Info("Server stopped")
	return nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
