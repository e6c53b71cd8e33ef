package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gemini-backend/internal/api"
	"gemini-backend/internal/auth"
	"gemini-backend/internal/billing"
	"gemini-backend/internal/cache"
	"gemini-backend/internal/chat"
	"gemini-backend/internal/config"
	"gemini-backend/internal/httpserver"
	"gemini-backend/internal/logging"
	"gemini-backend/internal/metrics"
	"gemini-backend/internal/queue"
	"gemini-backend/internal/quota"
	"gemini-backend/internal/repo"
	"gemini-backend/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
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
	logger.Info("starting api server", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := repo.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

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

	jobQueue := queue.New(redisClient, cfg.QueueKey, logger)
	quotaTracker := quota.New(repository, cfg.DailyMessageLimit, logger, metricRegistry)

	chatService := chat.NewService(repository, quotaTracker, chat.NewJobQueue(jobQueue), redisClient, chat.Config{
		MessageTimeout:   cfg.MessageTimeout,
		ChatroomCacheTTL: cfg.ChatroomCacheTTL,
	}, logger, metricRegistry)

	authService := auth.NewService(repository, cfg.JWTSecret, cfg.JWTTTL, logger)

	billingService := billing.NewService(repository, billing.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.StripeSuccessURL,
		CancelURL:     cfg.StripeCancelURL,
	}, logger, metricRegistry)

	handler := api.NewHandler(authService, chatService, billingService, repository, cfg.DailyMessageLimit, logger)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, handler.Router())

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
