package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gemini-backend/internal/ai"
	"gemini-backend/internal/cache"
	"gemini-backend/internal/config"
	"gemini-backend/internal/logging"
	"gemini-backend/internal/metrics"
	"gemini-backend/internal/queue"
	"gemini-backend/internal/repo"
	"gemini-backend/internal/worker"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting message worker", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := repo.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	adapter, err := ai.New(cfg, logger, metricRegistry)
	if err != nil {
		return fmt.Errorf("init ai adapter: %w", err)
	}

	jobQueue := queue.New(redisClient, cfg.QueueKey, logger)

	w := worker.New(jobQueue, repository, adapter, cfg.WorkerConcurrency, logger, metricRegistry)
	return w.Run(ctx)
}
