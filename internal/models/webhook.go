package models

import (
	"encoding/json"
	"time"

	"github.com/storemirror/internal/types"
)

// WebhookEvent is one row of the append-only inbound webhook audit log.
type WebhookEvent struct {
	ID         string                 `json:"id" db:"id"`
	StoreID    string                 `json:"storeId" db:"store_id"`
	EventType  string                 `json:"eventType" db:"event_type"`
	ObjectType string                 `json:"objectType" db:"object_type"`
	ObjectID   string                 `json:"objectId" db:"object_id"`
	Status     types.WebhookOutcome   `json:"status" db:"status"`
	Error      *string                `json:"error,omitempty" db:"error"`
	DurationMs int64                  `json:"durationMs" db:"duration_ms"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	ReceivedAt time.Time              `json:"receivedAt" db:"received_at"`
}

// WebhookQueueItem is one outbound delivery awaiting (or retired from) the
// delivery worker. A worker must claim an item before attempting delivery.
type WebhookQueueItem struct {
	ID            string               `json:"id" db:"id"`
	StoreID       string               `json:"storeId" db:"store_id"`
	TargetURL     string               `json:"targetUrl" db:"target_url"`
	EventType     string               `json:"eventType" db:"event_type"`
	Payload       json.RawMessage      `json:"payload" db:"payload"`
	Signature     string               `json:"signature" db:"signature"`
	Attempts      int                  `json:"attempts" db:"attempts"`
	MaxAttempts   int                  `json:"maxAttempts" db:"max_attempts"`
	Status        types.DeliveryStatus `json:"status" db:"status"`
	Error         *string              `json:"error,omitempty" db:"error"`
	ScheduledAt   time.Time            `json:"scheduledAt" db:"scheduled_at"`
	LastAttemptAt *time.Time           `json:"lastAttemptAt,omitempty" db:"last_attempt_at"`
	CreatedAt     time.Time            `json:"createdAt" db:"created_at"`
}

// DeadAfterNextFailure reports whether one more failed attempt uses up the
// item's delivery budget, matching the queue's dead-letter transition.
func (i *WebhookQueueItem) DeadAfterNextFailure() bool {
	return i.Attempts+1 >= i.MaxAttempts
}
