package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/V4T54L/aggregation-count/internal/adapter/api"
	"github.com/V4T54L/aggregation-count/internal/adapter/api/handler"
	"github.com/V4T54L/aggregation-count/internal/adapter/metrics"
	"github.com/V4T54L/aggregation-count/internal/adapter/notifier"
	"github.com/V4T54L/aggregation-count/internal/adapter/pii"
	"github.com/V4T54L/aggregation-count/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/aggregation-count/internal/adapter/repository/redis"
	"github.com/V4T54L/aggregation-count/internal/adapter/repository/wal"
	"github.com/V4T54L/aggregation-count/internal/domain"
	"github.com/V4T54L/aggregation-count/internal/pkg/config"
	"github.com/V4T54L/aggregation-count/internal/pkg/logger"
	"github.com/V4T54L/aggregation-count/internal/usecase"

	_ "github.com/lib/pq" // Keep for postgres driver
)

const redisHealthCheckInterval = 5 * time.Second

// resultPublisher is what the scheduler publishes to and the admin API reports on.
type resultPublisher interface {
	domain.ResultPublisher
	handler.StatusReporter
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	m := metrics.NewEvaluatorMetrics(prometheus.DefaultRegisterer)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Search Backend ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Warn("could not reach postgres, evaluations will fail until it is available", "error", err)
	}
	backend := postgres.NewSearchBackend(db, logger)

	// --- Conditions ---
	defs, err := config.LoadConditions(cfg.ConditionsFile)
	if err != nil {
		logger.Error("failed to load conditions", "error", err)
		os.Exit(1)
	}
	conditions, err := usecase.NewConditionFactory().BuildAll(defs, backend, usecase.ConditionOptions{
		BackendTimeout: cfg.BackendTimeout,
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		logger.Error("invalid condition configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded alert conditions", "count", len(conditions), "file", cfg.ConditionsFile)

	// --- Result Publisher ---
	var wg sync.WaitGroup
	var publisher resultPublisher
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set, triggered results will only be logged")
		publisher = notifier.NewLogNotifier(logger)
	} else {
		redisOpts, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			logger.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("could not connect to redis, results will be spooled", "error", err)
		}

		spool, err := wal.NewSpoolRepository(cfg.SpoolDir, cfg.SpoolSegmentSize, cfg.SpoolMaxDiskSize, logger)
		if err != nil {
			logger.Error("failed to initialize result spool", "error", err)
			os.Exit(1)
		}
		defer spool.Close()

		redisPublisher := redisrepo.NewResultPublisher(redisClient, cfg.ResultStream, spool, logger, m)
		// Deliver anything spooled by a previous run.
		if err := redisPublisher.ReplaySpool(ctx); err != nil {
			logger.Warn("could not replay result spool on startup", "error", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			redisPublisher.StartHealthCheck(ctx, redisHealthCheckInterval)
		}()
		publisher = redisPublisher
	}

	// --- Scheduler ---
	var limiter *rate.Limiter
	if cfg.BackendQueryRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.BackendQueryRate), 1)
	}
	redactor := pii.NewRedactor(cfg.PIIRedactionFields, logger)
	scheduler, err := usecase.NewScheduler(conditions, publisher, redactor, limiter, cfg.EvaluationInterval, logger, m)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	// --- Start Admin and Metrics Server ---
	adminServer := &http.Server{
		Addr:         cfg.AdminServerAddr,
		Handler:      api.NewRouter(scheduler, publisher, prometheus.DefaultGatherer, logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.BackendTimeout + 10*time.Second,
		IdleTimeout:  15 * time.Second,
	}
	go func() {
		logger.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin & metrics server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down evaluator...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}

	wg.Wait()
	logger.Info("evaluator shut down gracefully")
}
