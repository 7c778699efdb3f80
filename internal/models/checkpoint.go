package models

import (
	"time"

	"github.com/storemirror/internal/types"
)

// Checkpoint is the durable cursor for one (store, entity kind) pair.
// It is only ever overwritten, never deleted, and its remote cursor never
// moves backward on a successful run.
type Checkpoint struct {
	StoreID        string           `json:"storeId" db:"store_id"`
	Kind           types.EntityKind `json:"kind" db:"kind"`
	LastRemoteID   int64            `json:"lastRemoteId" db:"last_remote_id"`
	LastModifiedAt time.Time        `json:"lastModifiedAt" db:"last_modified_at"`
	LastRunStatus  string           `json:"lastRunStatus" db:"last_run_status"`
	LastRunError   *string          `json:"lastRunError,omitempty" db:"last_run_error"`
	SyncedCount    int64            `json:"syncedCount" db:"synced_count"`
	UpdatedAt      time.Time        `json:"updatedAt" db:"updated_at"`
}

// Checkpoint run status values.
const (
	CheckpointRunOK     = "ok"
	CheckpointRunFailed = "failed"
)
