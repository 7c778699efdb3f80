package models

import (
	"time"

	"github.com/storemirror/internal/types"
)

// SyncBatch groups one "sync all configured stores" run under a single id.
type SyncBatch struct {
	ID          string            `json:"id" db:"id"`
	Status      types.BatchStatus `json:"status" db:"status"`
	CurrentStep int               `json:"currentStep" db:"current_step"`
	TotalSites  int               `json:"totalSites" db:"total_sites"`
	Error       *string           `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
	StartedAt   *time.Time        `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt *time.Time        `json:"completedAt,omitempty" db:"completed_at"`
	ExpiresAt   time.Time         `json:"expiresAt" db:"expires_at"`
}

// SiteStats carries the per-step item counts recorded at step completion.
type SiteStats struct {
	Checked int `json:"checked"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// SyncSiteResult is the per-store row of a batch run. Rows are pre-created
// as pending when the batch is created and mutated only by the step that
// owns them, except for the reclamation sweep.
type SyncSiteResult struct {
	BatchID     string           `json:"batchId" db:"batch_id"`
	StepIndex   int              `json:"stepIndex" db:"step_index"`
	StoreID     string           `json:"storeId" db:"store_id"`
	StoreName   string           `json:"storeName" db:"store_name"`
	Status      types.StepStatus `json:"status" db:"status"`
	Stats       SiteStats        `json:"stats" db:"stats"`
	Error       *string          `json:"error,omitempty" db:"error"`
	StartedAt   *time.Time       `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt *time.Time       `json:"completedAt,omitempty" db:"completed_at"`
}
