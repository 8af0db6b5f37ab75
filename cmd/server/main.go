package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/accesslog/internal/adapter/api"
	"github.com/V4T54L/accesslog/internal/adapter/metrics"
	"github.com/V4T54L/accesslog/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/accesslog/internal/adapter/repository/redis"
	"github.com/V4T54L/accesslog/internal/adapter/repository/wal"
	"github.com/V4T54L/accesslog/internal/pkg/config"
	"github.com/V4T54L/accesslog/internal/pkg/logger"
	"github.com/V4T54L/accesslog/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewIngestMetrics(prometheus.DefaultRegisterer)

	// --- Database ---
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}
	gateway := postgres.NewLogRepository(db, logger)

	// --- Single-record buffer: Redis stream with WAL failover, or direct inserts ---
	var (
		buffer       usecase.RecordBufferer
		adminUseCase *usecase.AdminBufferUseCase
	)
	if cfg.RedisAddr != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			logger.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("could not connect to redis, will proceed in WAL-only mode", "error", err)
		}

		walRepo, err := wal.NewWALRepository(cfg.WALPath, cfg.WALSegmentSize, cfg.WALMaxDiskSize, logger)
		if err != nil {
			logger.Error("failed to initialize WAL repository", "error", err)
			os.Exit(1)
		}
		defer walRepo.Close()

		redisLogRepo := redisrepo.NewLogRepository(redisClient, logger, redisrepo.ConsumerGroup, cfg.RedisDLQStream, walRepo, m)
		go redisLogRepo.StartHealthCheck(ctx, 5*time.Second)

		buffer = redisLogRepo
		adminRepo := redisrepo.NewAdminRepository(redisClient, logger, redisrepo.ConsumerGroup, cfg.RedisDLQStream)
		adminUseCase = usecase.NewAdminBufferUseCase(adminRepo, redisLogRepo)
	} else {
		logger.Info("REDIS_ADDR not set, single records are inserted synchronously")
		buffer = usecase.NewDirectWriter(gateway, m)
	}

	// --- Use Cases ---
	csvUseCase := usecase.NewIngestCSVUseCase(gateway, logger, m, cfg.BatchSize)
	logUseCase := usecase.NewIngestLogUseCase(buffer, logger)
	queryUseCase := usecase.NewQueryLogsUseCase(gateway)

	// --- Admin and Metrics Server ---
	adminServer := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           api.NewAdminRouter(adminUseCase, prometheus.DefaultGatherer, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- Ingest Server ---
	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           api.NewRouter(cfg, logger, csvUseCase, logUseCase, queryUseCase),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("servers shut down gracefully")
}
