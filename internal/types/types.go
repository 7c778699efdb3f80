// Package types provides common type definitions for the store mirror system.
package types

// EntityKind represents a mirrored entity family
type EntityKind string

const (
	// KindOrders represents remote storefront orders
	KindOrders EntityKind = "orders"
	// KindProducts represents remote storefront products and stock levels
	KindProducts EntityKind = "products"
)

// AllEntityKinds returns every entity kind the puller knows how to mirror,
// in the order a full sync processes them.
func AllEntityKinds() []EntityKind {
	return []EntityKind{KindProducts, KindOrders}
}

// IsValid reports whether the kind is one the puller can mirror.
func (k EntityKind) IsValid() bool {
	return k == KindOrders || k == KindProducts
}

// SyncMode represents how a pull derives its lower bound
type SyncMode string

const (
	// ModeFull ignores the checkpoint and rebuilds the mirror from scratch
	ModeFull SyncMode = "full"
	// ModeIncremental resumes from the stored checkpoint
	ModeIncremental SyncMode = "incremental"
)

// IsValid reports whether the mode is a known sync mode.
func (m SyncMode) IsValid() bool {
	return m == ModeFull || m == ModeIncremental
}

// StoreType represents the commercial classification of a storefront
type StoreType string

const (
	// StoreRetail represents a retail storefront selling single units
	StoreRetail StoreType = "retail"
	// StoreWholesale represents a wholesale storefront selling packages
	StoreWholesale StoreType = "wholesale"
)

// TaskStatus represents the lifecycle state of a sync task
type TaskStatus string

const (
	// TaskPending represents a created task that has not started yet
	TaskPending TaskStatus = "pending"
	// TaskRunning represents a task currently pulling data
	TaskRunning TaskStatus = "running"
	// TaskCompleted represents a task that finished with zero errors
	TaskCompleted TaskStatus = "completed"
	// TaskCompletedWithErrors represents a task that finished but recorded errors
	TaskCompletedWithErrors TaskStatus = "completed_with_errors"
	// TaskFailed represents a task that raised an unrecoverable error
	TaskFailed TaskStatus = "failed"
)

// IsTerminal reports whether the status is a final task state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCompletedWithErrors || s == TaskFailed
}

// BatchStatus represents the aggregate state of a batch run
type BatchStatus string

const (
	// BatchPending represents a created batch with no step started yet
	BatchPending BatchStatus = "pending"
	// BatchSyncing represents a batch with at least one non-terminal step
	BatchSyncing BatchStatus = "syncing"
	// BatchCompleted represents a batch whose steps all completed successfully
	BatchCompleted BatchStatus = "completed"
	// BatchFailed represents a batch with at least one failed step
	BatchFailed BatchStatus = "failed"
)

// IsTerminal reports whether the status is a final batch state.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// StepStatus represents the state of one per-store batch step
type StepStatus string

const (
	// StepPending represents a step that has not been claimed yet
	StepPending StepStatus = "pending"
	// StepRunning represents a step currently executing a store sync
	StepRunning StepStatus = "running"
	// StepCompleted represents a successfully finished step
	StepCompleted StepStatus = "completed"
	// StepFailed represents a step that failed or was reclaimed
	StepFailed StepStatus = "failed"
)

// IsTerminal reports whether the status is a final step state.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed
}

// WebhookOutcome represents the processing result of an inbound webhook
type WebhookOutcome string

const (
	// WebhookSuccess represents a fully applied webhook
	WebhookSuccess WebhookOutcome = "success"
	// WebhookError represents a rejected or failed webhook
	WebhookError WebhookOutcome = "error"
	// WebhookPartial represents a webhook whose side effects partially applied
	WebhookPartial WebhookOutcome = "partial"
)

// DeliveryStatus represents the state of an outbound delivery queue item
type DeliveryStatus string

const (
	// DeliveryPending represents an item waiting for a delivery attempt
	DeliveryPending DeliveryStatus = "pending"
	// DeliveryInFlight represents an item claimed by a delivery worker
	DeliveryInFlight DeliveryStatus = "in_flight"
	// DeliverySent represents a successfully delivered item
	DeliverySent DeliveryStatus = "sent"
	// DeliveryFailed represents an item awaiting a retry after a failed attempt
	DeliveryFailed DeliveryStatus = "failed"
	// DeliveryDead represents an item retired after exhausting retries
	DeliveryDead DeliveryStatus = "dead"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
