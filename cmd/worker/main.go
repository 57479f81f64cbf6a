// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/contactsync-backend/internal/config"
	"github.com/unclebandit/contactsync-backend/internal/logging"
	"github.com/unclebandit/contactsync-backend/internal/notifier"
)

func main() {
	envLoaded := config.LoadEnvFile()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).Named("alert-worker")
	defer func() { _ = logger.Sync() }()
	if !envLoaded {
		logger.Info("⚠️ No .env file found, relying on OS environment variables")
	}
	if err := cfg.ValidateWorker(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker, err := notifier.DialBroker(ctx, cfg.AMQPURL, cfg.AlertQueue, logger)
	if err != nil {
		logger.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer broker.Close()

	deliveries, err := broker.Consume("contactsync-alert-worker", 10)
	if err != nil {
		logger.Fatal("failed to register consumer", zap.Error(err))
	}

	worker := notifier.NewWorker(deliveries, notifier.NewWebhookSender(cfg.AlertWebhookURL), logger)
	logger.Info("🚀 Worker waiting for alerts", zap.String("queue", cfg.AlertQueue))
	worker.Start(ctx)
	logger.Info("worker stopped")
}
