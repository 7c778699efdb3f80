// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/service"
	"github.com/storemirror/internal/types"
)

// Service interfaces for dependency injection and testing

// TaskServiceInterface defines the interface for sync task operations
type TaskServiceInterface interface {
	CreateTask(ctx context.Context, storeID string, mode types.SyncMode, kinds []types.EntityKind, force bool) (*models.SyncTask, error)
	GetTask(ctx context.Context, id string) (*models.SyncTask, error)
	CreateAndRun(ctx context.Context, storeID string, mode types.SyncMode, kinds []types.EntityKind, force bool) (*models.SyncTask, error)
}

// SlotServiceInterface defines the interface for slot-scheduled sync operations
type SlotServiceInterface interface {
	SyncSlot(ctx context.Context, slot int) (*models.SyncTask, error)
}

// BatchServiceInterface defines the interface for batch sync operations
type BatchServiceInterface interface {
	CreateBatch(ctx context.Context) (*service.BatchView, error)
	GetBatch(ctx context.Context, id string) (*service.BatchView, error)
	RunBatch(ctx context.Context, id string) (*service.BatchView, error)
}

// WebhookServiceInterface defines the interface for webhook intake operations
type WebhookServiceInterface interface {
	HandleInbound(ctx context.Context, storeID, eventType, signature string, body []byte) (*service.IntakeResult, error)
}

// ReclaimServiceInterface defines the interface for reclamation sweeps
type ReclaimServiceInterface interface {
	Run(ctx context.Context) (*service.ReclaimReport, error)
}

// ReportServiceInterface defines the interface for report operations
type ReportServiceInterface interface {
	SalesReport(ctx context.Context, from, to time.Time, bucket service.ReportBucket) (*service.SalesReport, error)
}

// DeadLetterReader lists retired outbound deliveries for inspection
type DeadLetterReader interface {
	ListDead(ctx context.Context, limit int) ([]*models.WebhookQueueItem, error)
}

// HealthFunc probes one backing dependency.
type HealthFunc func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router         *mux.Router
	httpServer     *http.Server
	taskService    TaskServiceInterface
	slotService    SlotServiceInterface
	batchService   BatchServiceInterface
	webhookService WebhookServiceInterface
	reclaimService ReclaimServiceInterface
	reportService  ReportServiceInterface
	deadLetters    DeadLetterReader
	healthChecks   map[string]HealthFunc
	config         *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	ClientRPS       int // Requests per second allowed per client IP
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	taskService TaskServiceInterface,
	slotService SlotServiceInterface,
	batchService BatchServiceInterface,
	webhookService WebhookServiceInterface,
	reclaimService ReclaimServiceInterface,
	reportService ReportServiceInterface,
	deadLetters DeadLetterReader,
	healthChecks map[string]HealthFunc,
) *Server {
	s := &Server{
		router:         mux.NewRouter(),
		taskService:    taskService,
		slotService:    slotService,
		batchService:   batchService,
		webhookService: webhookService,
		reclaimService: reclaimService,
		reportService:  reportService,
		deadLetters:    deadLetters,
		healthChecks:   healthChecks,
		config:         config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Create rate limiter
	rateLimiter := NewRateLimiter(s.config.ClientRPS)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter)) // Rate limiting after CORS
	s.router.Use(CompressionMiddleware)

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// API v1 routes
	api := s.router.PathPrefix("/api").Subrouter()

	// Sync task endpoints
	api.HandleFunc("/sync/tasks", s.handleCreateTask).Methods("POST")
	api.HandleFunc("/sync/tasks/{id}", s.handleGetTask).Methods("GET")

	// Slot-scheduled sync endpoint
	api.HandleFunc("/sync/slots/{slot}", s.handleSyncSlot).Methods("POST")

	// Batch sync endpoints
	api.HandleFunc("/sync/batches", s.handleRunBatch).Methods("POST")
	api.HandleFunc("/sync/batches/{id}", s.handleGetBatch).Methods("GET")

	// Webhook intake (store pushes)
	api.HandleFunc("/webhooks/{storeID}", s.handleWebhook).Methods("POST")

	// Maintenance endpoints
	api.HandleFunc("/maintenance/reclaim", s.handleReclaim).Methods("POST")
	api.HandleFunc("/maintenance/deliveries/dead", s.handleDeadDeliveries).Methods("GET")

	// Report endpoints
	api.HandleFunc("/reports/sales", s.handleSalesReport).Methods("GET")
}

// handleHealth handles health check requests. Each registered dependency is
// probed with a short timeout; an unreachable one degrades the overall
// status to 503 but the per-dependency breakdown is always reported.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	deps := make(map[string]string, len(s.healthChecks))

	for name, check := range s.healthChecks {
		if err := check(ctx); err != nil {
			deps[name] = "unreachable"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	respondJSON(w, code, map[string]interface{}{
		"status":       status,
		"service":      "store-mirror",
		"dependencies": deps,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
