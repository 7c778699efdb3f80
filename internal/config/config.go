// Package config provides configuration management for the store mirror
// services. It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
	Webhook   WebhookConfig
	Report    ReportConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port      string
	Host      string
	ClientRPS int // Requests per second allowed per client IP
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// SyncConfig holds puller and task manager configuration
type SyncConfig struct {
	PageSize          int           // Items per page requested from a remote store (max 100)
	MinPageSize       int           // Floor the adaptive throttle may shrink pages to
	MaxPullDuration   time.Duration // Upper time bound on one pull invocation
	TaskLiveness      time.Duration // Age past which a non-terminal task is considered abandoned
	FullSyncCooldown  time.Duration // Window in which a repeated full sync needs force
	BatchLiveness     time.Duration // Age past which an all-pending batch is reclaimed
	StepLiveness      time.Duration // Duration past which a running step is reclaimed
	BatchExpiry       time.Duration // Default distance of a batch's expiry timestamp
	RequestTimeout    time.Duration // Per-page HTTP request timeout
}

// SchedulerConfig holds slot scheduler configuration
type SchedulerConfig struct {
	// AllowedStores is the operator-maintained allow-list of store ids
	// eligible for slot scheduling. Empty means every enabled store.
	AllowedStores []string
}

// WebhookConfig holds webhook intake and delivery queue configuration
type WebhookConfig struct {
	DeliveryMaxAttempts int
	DeliveryBatchSize   int
	EventRetention      time.Duration // Audit log rows older than this are pruned
	ForwardURL          string        // Optional downstream to forward applied events to
	ForwardSecret       string        // Secret used to sign forwarded events
}

// ReportConfig holds report cache configuration
type ReportConfig struct {
	CacheTTL time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:      getEnv("SERVER_PORT", "8080"),
			Host:      getEnv("SERVER_HOST", "0.0.0.0"),
			ClientRPS: getEnvAsInt("SERVER_CLIENT_RPS", 20),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "storemirror"),
				User:           getEnv("POSTGRES_USER", "storemirror"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "storemirror"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:     getEnv("REDIS_HOST", "localhost"),
				Port:     getEnv("REDIS_PORT", "6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvAsInt("REDIS_DB", 0),
			},
		},
		Sync: SyncConfig{
			PageSize:         getEnvAsInt("SYNC_PAGE_SIZE", 100),
			MinPageSize:      getEnvAsInt("SYNC_MIN_PAGE_SIZE", 10),
			MaxPullDuration:  getEnvAsDuration("SYNC_MAX_PULL_DURATION", 30*time.Minute),
			TaskLiveness:     getEnvAsDuration("SYNC_TASK_LIVENESS", 30*time.Minute),
			FullSyncCooldown: getEnvAsDuration("SYNC_FULL_COOLDOWN", 10*time.Minute),
			BatchLiveness:    getEnvAsDuration("SYNC_BATCH_LIVENESS", 10*time.Minute),
			StepLiveness:     getEnvAsDuration("SYNC_STEP_LIVENESS", 5*time.Minute),
			BatchExpiry:      getEnvAsDuration("SYNC_BATCH_EXPIRY", 1*time.Hour),
			RequestTimeout:   getEnvAsDuration("SYNC_REQUEST_TIMEOUT", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			AllowedStores: getEnvAsList("SCHEDULER_ALLOWED_STORES"),
		},
		Webhook: WebhookConfig{
			DeliveryMaxAttempts: getEnvAsInt("WEBHOOK_DELIVERY_MAX_ATTEMPTS", 5),
			DeliveryBatchSize:   getEnvAsInt("WEBHOOK_DELIVERY_BATCH_SIZE", 20),
			EventRetention:      getEnvAsDuration("WEBHOOK_EVENT_RETENTION", 30*24*time.Hour),
			ForwardURL:          getEnv("WEBHOOK_FORWARD_URL", ""),
			ForwardSecret:       getEnv("WEBHOOK_FORWARD_SECRET", ""),
		},
		Report: ReportConfig{
			CacheTTL: getEnvAsDuration("REPORT_CACHE_TTL", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 100 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be between 1 and 100, got %d", c.Sync.PageSize)
	}
	if c.Sync.MinPageSize <= 0 || c.Sync.MinPageSize > c.Sync.PageSize {
		return fmt.Errorf("SYNC_MIN_PAGE_SIZE must be between 1 and SYNC_PAGE_SIZE, got %d", c.Sync.MinPageSize)
	}
	if c.Webhook.DeliveryMaxAttempts <= 0 {
		return fmt.Errorf("WEBHOOK_DELIVERY_MAX_ATTEMPTS must be positive, got %d", c.Webhook.DeliveryMaxAttempts)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets a comma-separated environment variable as a string slice
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
