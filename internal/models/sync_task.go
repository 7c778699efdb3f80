package models

import (
	"time"

	"github.com/storemirror/internal/types"
)

// KindProgress is the per-entity-kind slice of a task's progress snapshot.
type KindProgress struct {
	Total  int     `json:"total"`
	Synced int     `json:"synced"`
	Status string  `json:"status"`
	Error  *string `json:"error,omitempty"`
}

// Per-kind progress status values.
const (
	KindProgressPending   = "pending"
	KindProgressSyncing   = "syncing"
	KindProgressCompleted = "completed"
	KindProgressFailed    = "failed"
)

// TaskProgress is the progress snapshot persisted on every task transition.
// One tagged entry per entity kind keeps the shape checkable instead of an
// open dictionary.
type TaskProgress struct {
	Orders   *KindProgress `json:"orders,omitempty"`
	Products *KindProgress `json:"products,omitempty"`
}

// ForKind returns the progress entry for the given kind, or nil.
func (p *TaskProgress) ForKind(kind types.EntityKind) *KindProgress {
	switch kind {
	case types.KindOrders:
		return p.Orders
	case types.KindProducts:
		return p.Products
	}
	return nil
}

// SetKind replaces the progress entry for the given kind.
func (p *TaskProgress) SetKind(kind types.EntityKind, kp *KindProgress) {
	switch kind {
	case types.KindOrders:
		p.Orders = kp
	case types.KindProducts:
		p.Products = kp
	}
}

// SyncTask represents one logical "sync this store" request.
type SyncTask struct {
	ID          string             `json:"id" db:"id"`
	StoreID     string             `json:"storeId" db:"store_id"`
	Mode        types.SyncMode     `json:"mode" db:"mode"`
	Kinds       []types.EntityKind `json:"kinds" db:"kinds"`
	Status      types.TaskStatus   `json:"status" db:"status"`
	Progress    TaskProgress       `json:"progress" db:"progress"`
	Result      *string            `json:"result,omitempty" db:"result"`
	Error       *string            `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time          `json:"createdAt" db:"created_at"`
	StartedAt   *time.Time         `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt *time.Time         `json:"completedAt,omitempty" db:"completed_at"`
}
