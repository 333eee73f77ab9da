package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/braincount/impression-engine/internal/aggregate"
	"github.com/braincount/impression-engine/internal/config"
	"github.com/braincount/impression-engine/internal/database"
	"github.com/braincount/impression-engine/internal/httpserver"
	"github.com/braincount/impression-engine/internal/jobs"
	"github.com/braincount/impression-engine/internal/metrics"
	"github.com/braincount/impression-engine/internal/middleware"
	"github.com/braincount/impression-engine/internal/report"
	"github.com/braincount/impression-engine/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use logger yet, fall back to standard log
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting impression engine",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis (optional; live counters and report cache degrade
	// gracefully without it)
	var redisDB *database.RedisDB
	if cfg.Redis.Enabled {
		redisDB, err = database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, live counters disabled", zap.Error(err))
		} else {
			defer redisDB.Close()
		}
	}

	// Initialize ClickHouse archive (optional)
	var archive storage.DetectionArchive
	if cfg.ClickHouse.Enabled {
		ch, err := storage.NewClickHouseArchive(ctx, cfg.ClickHouse.Addr, cfg.ClickHouse.Database, cfg.ClickHouse.User, cfg.ClickHouse.Password)
		if err != nil {
			logger.Warn("failed to connect to ClickHouse, archiving disabled", zap.Error(err))
		} else {
			defer ch.Close()
			archive = ch
			logger.Info("ClickHouse detection archive enabled", zap.String("addr", cfg.ClickHouse.Addr))
		}
	}

	m := metrics.NewMetrics("braincount")

	// Storage layer
	rollups := storage.NewPostgresRollupStore(db.Pool, cfg.Ingest.LegacyDwellAvg)
	rollups.SetMetrics(m)
	billboards := storage.NewPostgresBillboardRepo(db.Pool)
	campaigns := storage.NewPostgresCampaignRepo(db.Pool)
	detections := storage.NewPostgresDetectionStore(db.Pool)

	// Core services
	var live *aggregate.LiveCounters
	var cache *report.Cache
	if redisDB != nil {
		live = aggregate.NewLiveCounters(redisDB.Client, logger)
		cache = report.NewCache(redisDB.Client, cfg.Report.CacheTTL, logger)
	}
	aggregator := aggregate.NewAggregator(rollups, billboards, live, m, logger, cfg.Ingest.ChunkSize)
	engine := report.NewEngine(rollups, billboards, campaigns, logger)

	// Drain job for staged detections
	if cfg.Drain.Enabled {
		drain := jobs.NewDrainJob(detections, aggregator, archive, m, logger, cfg.Drain.Interval, cfg.Drain.PageSize)
		go drain.Run(ctx)
	}

	// Build dependencies
	deps := &httpserver.Dependencies{
		Config:     cfg,
		Logger:     logger,
		Metrics:    m,
		Rollups:    rollups,
		Billboards: billboards,
		Campaigns:  campaigns,
		Detections: detections,
		Aggregator: aggregator,
		Engine:     engine,
		Cache:      cache,
		Live:       live,
	}

	// Create HTTP server with all middlewares
	handler := httpserver.NewServer(deps)

	// Apply middleware chain (order matters: outermost first)
	// Recovery -> Logging -> RateLimit -> Auth -> Handler
	recoveryMW := middleware.NewRecoveryMiddleware(logger)
	loggingMW := middleware.NewLoggingMiddleware(logger)
	rateLimitMW := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)
	rateLimitMW.SetMetrics(m)
	authMW := middleware.NewAuthMiddleware(cfg.Auth, logger)

	finalHandler := recoveryMW.Handler(
		loggingMW.Handler(
			rateLimitMW.Handler(
				authMW.Handler(handler),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Cancel main context to stop background goroutines
	cancel()

	logger.Info("server stopped")
}
