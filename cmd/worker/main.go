// Package main is the entry point for the push notification worker.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/config"
	"github.com/capitalize-ai/messaging-platform/internal/push"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

func main() {
	cfg := config.Load()

	log, err := logger.FromEnv(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if err := run(cfg, log); err != nil {
		log.Error("push worker failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	if cfg.FCMServerKey == "" {
		return fmt.Errorf("FCM_SERVER_KEY is required")
	}

	ctx := context.Background()
	pg, err := store.Connect(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pg.Close()

	srv, err := push.NewServer(push.ServerConfig{
		RedisURL:    cfg.RedisURL,
		Queue:       cfg.PushQueue,
		Concurrency: cfg.WorkerConcurrency,
	}, log)
	if err != nil {
		return err
	}

	worker := push.NewWorker(push.NewFCMSender(cfg.FCMEndpoint, cfg.FCMServerKey), pg, log)
	mux := asynq.NewServeMux()
	worker.Register(mux)

	log.Info("push worker started",
		zap.String("queue", cfg.PushQueue),
		zap.Int("concurrency", cfg.WorkerConcurrency),
	)
	// Run blocks until SIGTERM or SIGINT and then drains in-flight tasks.
	return srv.Run(mux)
}
