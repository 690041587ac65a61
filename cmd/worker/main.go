package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Snippy-project/Snippy-backend/internal/config"
	"github.com/Snippy-project/Snippy-backend/internal/fulfillment"
	"github.com/Snippy-project/Snippy-backend/internal/obs"
	"github.com/Snippy-project/Snippy-backend/internal/order"
	"github.com/Snippy-project/Snippy-backend/internal/product"
	"github.com/Snippy-project/Snippy-backend/internal/queue"
	"github.com/Snippy-project/Snippy-backend/internal/quota"
	"github.com/Snippy-project/Snippy-backend/internal/subscription"
)

// The worker drains the fulfillment retry queue and expires overdue
// subscription windows.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "snippy"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	quotaStore := &quota.Store{Pool: pool}
	subStore := &subscription.Store{Pool: pool}
	engine := &fulfillment.Engine{
		Store:  &fulfillment.PGStore{Pool: pool, Quotas: quotaStore, Subs: subStore},
		Logger: logger,
	}
	taskHandler := &fulfillment.TaskHandler{
		Orders:   &order.Store{Pool: pool},
		Products: &product.Store{Pool: pool},
		Engine:   engine,
		Logger:   logger,
	}

	go expireSubscriptions(ctx, subStore, logger)

	worker := queue.Worker{
		R:                 redisClient,
		Prefix:            cfg.QueuePrefix,
		Kind:              queue.KindFulfillOrder,
		Concurrency:       4,
		VisibilityTimeout: cfg.QueueVisibility,
		RetryBase:         cfg.QueueRetryBase,
		RetryJitter:       0.2,
		DeadLetters:       &queue.DLQStore{Pool: pool},
		Logger:            logger,
		Handler:           taskHandler.Handle,
	}

	logger.Info().Msg("worker starting")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

// expireSubscriptions runs the hourly sweep that flips overdue active
// subscription windows to expired.
func expireSubscriptions(ctx context.Context, store *subscription.Store, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.ExpireOverdue(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("expire subscriptions")
				continue
			}
			if n > 0 {
				logger.Info().Int64("expired", n).Msg("subscription windows expired")
			}
		}
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "snippy-worker"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
