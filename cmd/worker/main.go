// Package main provides the webhook delivery worker entry point for the
// store mirror service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/storemirror/internal/config"
	"github.com/storemirror/internal/logging"
	"github.com/storemirror/internal/storage"
	"github.com/storemirror/internal/worker"
)

func main() {
	log.Println("Delivery worker starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)
	logger := logging.GetGlobalLogger()

	// Connect to Postgres
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	queueRepo := storage.NewWebhookQueueRepository(postgres)

	deliveryWorker := worker.NewDeliveryWorker(queueRepo, nil, nil, cfg.Webhook.DeliveryBatchSize)

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	go deliveryWorker.Run(ctx, 15*time.Second)

	logger.Info("Delivery worker started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down delivery worker...")
	cancel()

	// Give the in-flight batch a moment to settle
	time.Sleep(2 * time.Second)

	logger.Info("Delivery worker exited")
}
