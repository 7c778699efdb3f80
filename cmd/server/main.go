// Package main provides the API server entry point for the store mirror service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/storemirror/internal/adapter"
	"github.com/storemirror/internal/api"
	"github.com/storemirror/internal/config"
	"github.com/storemirror/internal/logging"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/service"
	"github.com/storemirror/internal/storage"
	"github.com/storemirror/internal/worker"
)

func main() {
	fmt.Println("Store Mirror API Server")
	log.Println("Server starting...")

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
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

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

	// Connect to Redis
	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Initialize repositories
	storeRepo := storage.NewStoreRepository(postgres)
	taskRepo := storage.NewSyncTaskRepository(postgres)
	checkpointRepo := storage.NewCheckpointRepository(postgres)
	orderRepo := storage.NewOrderRepository(postgres)
	productRepo := storage.NewProductRepository(postgres)
	batchRepo := storage.NewBatchRepository(postgres)
	eventRepo := storage.NewWebhookEventRepository(postgres)
	queueRepo := storage.NewWebhookQueueRepository(postgres)
	mappingRepo := storage.NewSkuMappingRepository(postgres)
	lineItemRepo := storage.NewLineItemRepository(clickhouse)

	// Initialize report cache
	reportCache := storage.NewReportCache(redis, cfg.Report.CacheTTL)

	// Initialize services
	logger.Info("Initializing services...")

	puller := worker.NewPuller(checkpointRepo, orderRepo, productRepo, lineItemRepo, cfg.Sync.MaxPullDuration)

	newFetcher := func(store *models.Store) worker.PageFetcher {
		return adapter.NewStorefrontClient(store, cfg.Sync.PageSize, cfg.Sync.MinPageSize, cfg.Sync.RequestTimeout)
	}

	taskService := service.NewTaskService(taskRepo, storeRepo, puller, newFetcher, service.TaskServiceConfig{
		TaskLiveness:     cfg.Sync.TaskLiveness,
		FullSyncCooldown: cfg.Sync.FullSyncCooldown,
	})

	slotService := service.NewSlotService(storeRepo, taskService, cfg.Scheduler.AllowedStores)

	batchService := service.NewBatchService(batchRepo, storeRepo, taskService, cfg.Sync.BatchExpiry)

	webhookService := service.NewWebhookService(storeRepo, eventRepo, orderRepo, lineItemRepo, queueRepo, service.WebhookServiceConfig{
		ForwardURL:    cfg.Webhook.ForwardURL,
		ForwardSecret: cfg.Webhook.ForwardSecret,
		MaxAttempts:   cfg.Webhook.DeliveryMaxAttempts,
	})

	reclaimService := service.NewReclaimService(batchRepo, taskRepo, queueRepo, eventRepo, service.ReclaimConfig{
		TaskLiveness:   cfg.Sync.TaskLiveness,
		BatchLiveness:  cfg.Sync.BatchLiveness,
		StepLiveness:   cfg.Sync.StepLiveness,
		EventRetention: cfg.Webhook.EventRetention,
	})

	reportService := service.NewReportService(lineItemRepo, mappingRepo, storeRepo, reportCache)

	logger.Info("Services initialized")

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		ClientRPS:       cfg.Server.ClientRPS,
	}

	healthChecks := map[string]api.HealthFunc{
		"postgres":   postgres.Ping,
		"clickhouse": clickhouse.Ping,
		"redis":      redis.Ping,
	}

	server := api.NewServer(serverConfig, taskService, slotService, batchService, webhookService, reclaimService, reportService, queueRepo, healthChecks)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
