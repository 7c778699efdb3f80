// Package main provides the reclamation sweep entry point. Intended to be
// invoked from cron; one invocation runs one sweep and exits.
package main

import (
	"context"
	"log"
	"time"

	"github.com/storemirror/internal/config"
	"github.com/storemirror/internal/logging"
	"github.com/storemirror/internal/service"
	"github.com/storemirror/internal/storage"
)

func main() {
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

	batchRepo := storage.NewBatchRepository(postgres)
	taskRepo := storage.NewSyncTaskRepository(postgres)
	queueRepo := storage.NewWebhookQueueRepository(postgres)
	eventRepo := storage.NewWebhookEventRepository(postgres)

	reclaimService := service.NewReclaimService(batchRepo, taskRepo, queueRepo, eventRepo, service.ReclaimConfig{
		TaskLiveness:   cfg.Sync.TaskLiveness,
		BatchLiveness:  cfg.Sync.BatchLiveness,
		StepLiveness:   cfg.Sync.StepLiveness,
		EventRetention: cfg.Webhook.EventRetention,
	})

	ctx, cancel := context.WithTimeout(logging.WithLogger(context.Background(), logger), 2*time.Minute)
	defer cancel()

	report, err := reclaimService.Run(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Reclamation sweep failed")
	}

	logger.WithFields(map[string]interface{}{
		"expiredBatches":      report.ExpiredBatches,
		"stalePendingBatches": report.StalePendingBatches,
		"stuckSteps":          report.StuckSteps,
		"staleTasks":          report.StaleTasks,
		"releasedDeliveries":  report.ReleasedDeliveries,
		"prunedEvents":        report.PrunedEvents,
	}).Info("Reclamation sweep completed")
}
