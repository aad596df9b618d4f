package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"moneta/internal/amqp"
	"moneta/internal/config"
	apphttp "moneta/internal/http"
	"moneta/internal/log"
	"moneta/internal/storage"
)

func main() {
	// Load .env for local development; in containers the env is already set.
	_ = godotenv.Load()

	logger := log.Init(0)
	logger.Info("starting moneta")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.Open(cfg.DBDriver, cfg.DSN(), logger)
	if err != nil {
		logger.Error("failed to open database", log.FieldError, err, "driver", cfg.DBDriver)
		os.Exit(1)
	}
	defer repo.Close()

	var publisher apphttp.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange,
			[]string{cfg.AMQPEventQueue, cfg.AMQPDeliveryQueue}, logger)
		if err != nil {
			logger.Error("failed to connect to AMQP broker", log.FieldError, err)
			os.Exit(1)
		}
		defer client.Close()
		publisher = client
	} else {
		logger.Info("AMQP disabled, expense events will not be published")
	}

	srv := apphttp.NewServer(*cfg, repo, publisher, logger)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", log.FieldError, err)
		}
		cancel()
	}()

	logger.Info("serving", "port", cfg.Port, "driver", cfg.DBDriver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("server stopped gracefully")
}
