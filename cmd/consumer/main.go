package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/accesslog/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/accesslog/internal/adapter/repository/redis"
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

	log := logger.New(cfg.LogLevel)
	log.Info("starting consumer worker")

	if cfg.RedisAddr == "" {
		log.Error("REDIS_ADDR is required for the consumer")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Redis
	redisOpts, err := redis.ParseURL(cfg.RedisAddr)
	if err != nil {
		log.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis")

	// Connect to PostgreSQL
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres")

	// Create a unique consumer name for this instance
	consumerName, err := os.Hostname()
	if err != nil {
		log.Warn("could not get hostname for consumer name, using default", "error", err)
		consumerName = "consumer-default"
	}

	buffer := redisrepo.NewLogRepository(redisClient, log, redisrepo.ConsumerGroup, cfg.RedisDLQStream, nil, nil)
	gateway := postgres.NewLogRepository(db, log)
	processLogsUseCase := usecase.NewProcessLogsUseCase(buffer, gateway, log, redisrepo.ConsumerGroup, consumerName, cfg.BatchSize, cfg.ConsumerClaimIdle)

	log.Info("consumer worker started, processing logs...", "group", redisrepo.ConsumerGroup, "consumer", consumerName, "interval", cfg.ConsumerInterval)
	processLogsUseCase.Run(ctx, cfg.ConsumerInterval)
	log.Info("consumer worker shut down gracefully")
}
