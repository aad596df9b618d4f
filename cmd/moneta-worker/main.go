package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"moneta/internal/amqp"
	"moneta/internal/config"
	"moneta/internal/delivery"
	"moneta/internal/log"
	"moneta/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger := log.Init(0)
	logger.Info("starting moneta-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the delivery worker")
		os.Exit(1)
	}

	repo, err := storage.Open(cfg.DBDriver, cfg.DSN(), logger)
	if err != nil {
		logger.Error("failed to open database", log.FieldError, err, "driver", cfg.DBDriver)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	// Consume until cancelled, reconnecting with backoff when the broker
	// connection drops. A fresh client also rebuilds worker state, so the
	// regex cache starts cold after a reconnect; that is fine.
	attempt := 0
	for {
		if ctx.Err() != nil {
			break
		}

		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange,
			[]string{cfg.AMQPEventQueue, cfg.AMQPDeliveryQueue}, logger)
		if err != nil {
			wait := amqp.ExponentialBackoff(attempt)
			attempt++
			logger.Error("failed to connect to AMQP broker, retrying",
				log.FieldError, err, "wait", wait, "attempt", attempt)
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0

		worker := delivery.NewWorker(repo, client, cfg.AMQPEventQueue, logger)
		err = client.ConsumeStatements(ctx, cfg.AMQPDeliveryQueue, worker.HandleStatement)
		client.Close()

		if errors.Is(err, context.Canceled) {
			break
		}
		if err != nil && !amqp.IsConnectionError(err) {
			logger.Error("consumption failed", log.FieldError, err)
			os.Exit(1)
		}
		logger.Warn("broker connection lost, reconnecting", log.FieldError, err)
	}

	logger.Info("worker stopped gracefully")
}
