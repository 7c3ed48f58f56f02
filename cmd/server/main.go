package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/mediamirror/server/internal/cloudinary"
	"github.com/mediamirror/server/internal/config"
	"github.com/mediamirror/server/internal/handlers"
	"github.com/mediamirror/server/internal/lock"
	custommw "github.com/mediamirror/server/internal/middleware"
	"github.com/mediamirror/server/internal/observability"
	"github.com/mediamirror/server/internal/repository"
	"github.com/mediamirror/server/internal/services"
)

// @title MediaMirror Server API
// @version 1.0
// @description Bidirectional Cloudinary to database media synchronization service
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize telemetry
	ctx := context.Background()
	telemetry, err := observability.Initialize(ctx, observability.NewConfig("mediamirror-server", "1.0.0"))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}

	logger := observability.GetLogger()

	// Initialize database
	var db *sql.DB
	if cfg.UsePostgres() {
		logger.Info("Using PostgreSQL database")
		db, err = repository.NewPostgresDB(cfg.DatabaseURL)
	} else {
		logger.Info("Using SQLite database")
		db, err = repository.NewSQLiteDB(cfg.DatabasePath)
	}
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	assetRepo := repository.NewAssetRepository(db)
	queueRepo := repository.NewCleanupQueueRepository(db)
	operationRepo := repository.NewSyncOperationRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)

	// Run locks: Redis when configured, in-process otherwise
	var locks lock.Provider
	if cfg.RedisAddr != "" {
		logger.Infof("Using Redis run locks at %s", cfg.RedisAddr)
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		locks = lock.NewRedisProvider(redisClient)
	} else {
		locks = lock.NewMutexProvider()
	}

	metrics, err := observability.NewSyncMetrics()
	if err != nil {
		logger.Warnf("Failed to initialize sync metrics: %v", err)
	}
	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		logger.Warnf("Failed to initialize HTTP metrics: %v", err)
	}

	// Asset store client
	store, err := cloudinary.NewClient(cfg.Cloudinary, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to initialize Cloudinary client: %v", err)
	}

	// Status hub for WebSocket progress updates
	hub := services.NewStatusHub()
	go hub.Run()

	// Initialize services
	tracker := services.NewOperationTracker(operationRepo, snapshotRepo, assetRepo, queueRepo, hub)
	cleanupService := services.NewCleanupService(
		store, queueRepo, assetRepo, locks, hub, metrics,
		cloudinary.IsRetryable,
		cfg.Sync.MaxCleanupAttempts,
		cfg.Sync.BackoffBase(), cfg.Sync.BackoffCap(),
		cfg.Sync.CleanupBatchSize,
	)
	syncService := services.NewSyncService(
		store, assetRepo, cleanupService, tracker, locks, hub, metrics,
		cfg.Sync.BatchSize, cfg.Cloudinary.PageSize,
	)
	scheduler := services.NewSchedulerService(syncService, cleanupService, tracker, cfg.Sync)
	if cfg.Sync.AutoStart {
		scheduler.Start()
	}

	// Initialize handlers
	syncHandler := handlers.NewSyncHandler(syncService)
	cleanupHandler := handlers.NewCleanupHandler(cleanupService)
	schedulerHandler := handlers.NewSchedulerHandler(scheduler)
	mediaHandler := handlers.NewMediaHandler(syncService, cleanupService)
	operationsHandler := handlers.NewOperationsHandler(tracker)
	healthHandler := handlers.NewHealthHandler()
	wsHandler := handlers.NewWebSocketHandler(hub)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observability.TracingMiddleware("mediamirror-server"))
	if httpMetrics != nil {
		r.Use(observability.MetricsMiddleware(httpMetrics))
	}
	r.Use(custommw.APIKeyAuth(cfg.Security.APIKey, cfg.Security.APIKeyHeader))

	// Routes
	r.Get("/health", healthHandler.Health)
	r.Get("/api/health", healthHandler.Health)
	// Browser clients connect on /ws; key-bearing tooling may use /api/ws
	r.Get("/ws", wsHandler.HandleConnection)
	r.Get("/api/ws", wsHandler.HandleConnection)
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/admin", func(r chi.Router) {
		r.Route("/cloudinary", func(r chi.Router) {
			r.Post("/sync", syncHandler.TriggerSync)
			r.Get("/cleanup", cleanupHandler.GetStats)
			r.Post("/cleanup", cleanupHandler.RunCleanup)
			r.Get("/scheduler", schedulerHandler.GetStatus)
			r.Post("/scheduler", schedulerHandler.Control)
			r.Delete("/media", mediaHandler.DeleteMedia)
			r.Post("/upload", mediaHandler.Upload)
		})

		r.Get("/sync/verify", syncHandler.VerifySync)
		r.Post("/sync/verify", syncHandler.VerifyAndFix)

		r.Route("/operations", func(r chi.Router) {
			r.Get("/", operationsHandler.ListOperations)
			r.Get("/{id}", operationsHandler.GetOperation)
			r.Post("/{id}/cancel", operationsHandler.CancelOperation)
		})

		r.Get("/status/snapshots", operationsHandler.ListSnapshots)
		r.Post("/status/snapshots", operationsHandler.CreateSnapshot)
	})

	// Create server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Longer for uploads
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("MediaMirror Server starting on %s", cfg.ServerAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Telemetry shutdown failed: %v", err)
	}

	logger.Info("Server stopped")
}
