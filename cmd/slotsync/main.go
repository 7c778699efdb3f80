// Package main provides the slot-scheduled sync entry point. A fixed cron
// fan-out invokes one process per slot; a slot past the eligible store list
// exits cleanly so gaps in the store roster never alarm.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/storemirror/internal/adapter"
	"github.com/storemirror/internal/config"
	"github.com/storemirror/internal/logging"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/service"
	"github.com/storemirror/internal/storage"
	"github.com/storemirror/internal/worker"

	apperrors "github.com/storemirror/internal/errors"
)

func main() {
	slot := flag.Int("slot", 0, "1-based scheduler slot to sync")
	flag.Parse()

	if *slot < 1 {
		log.Fatal("-slot must be at least 1")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)
	logger := logging.GetGlobalLogger().WithField("slot", *slot)

	// Connect to Postgres
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	// Connect to ClickHouse
	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	storeRepo := storage.NewStoreRepository(postgres)
	taskRepo := storage.NewSyncTaskRepository(postgres)
	checkpointRepo := storage.NewCheckpointRepository(postgres)
	orderRepo := storage.NewOrderRepository(postgres)
	productRepo := storage.NewProductRepository(postgres)
	lineItemRepo := storage.NewLineItemRepository(clickhouse)

	puller := worker.NewPuller(checkpointRepo, orderRepo, productRepo, lineItemRepo, cfg.Sync.MaxPullDuration)

	newFetcher := func(store *models.Store) worker.PageFetcher {
		return adapter.NewStorefrontClient(store, cfg.Sync.PageSize, cfg.Sync.MinPageSize, cfg.Sync.RequestTimeout)
	}

	taskService := service.NewTaskService(taskRepo, storeRepo, puller, newFetcher, service.TaskServiceConfig{
		TaskLiveness:     cfg.Sync.TaskLiveness,
		FullSyncCooldown: cfg.Sync.FullSyncCooldown,
	})

	slotService := service.NewSlotService(storeRepo, taskService, cfg.Scheduler.AllowedStores)

	ctx := logging.WithLogger(context.Background(), logger)

	task, err := slotService.SyncSlot(ctx, *slot)
	if err != nil {
		if catErr := apperrors.Categorize(err); catErr != nil && catErr.Category == apperrors.CategoryNotFound {
			logger.Info("Slot has no store assigned; nothing to do")
			return
		}
		logger.WithError(err).Fatal("Slot sync failed")
	}

	logger.WithFields(map[string]interface{}{
		"task":   task.ID,
		"store":  task.StoreID,
		"status": task.Status,
	}).Info("Slot sync completed")
}
