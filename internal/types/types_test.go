package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityKindIsValid(t *testing.T) {
	assert.True(t, KindOrders.IsValid())
	assert.True(t, KindProducts.IsValid())
	assert.False(t, EntityKind("customers").IsValid())
	assert.False(t, EntityKind("").IsValid())
}

func TestAllEntityKinds_ProductsBeforeOrders(t *testing.T) {
	// Products first so order line items can resolve stock and SKU data
	// mirrored in the same run.
	assert.Equal(t, []EntityKind{KindProducts, KindOrders}, AllEntityKinds())
}

func TestSyncModeIsValid(t *testing.T) {
	assert.True(t, ModeFull.IsValid())
	assert.True(t, ModeIncremental.IsValid())
	assert.False(t, SyncMode("partial").IsValid())
}

func TestTaskStatusIsTerminal(t *testing.T) {
	assert.False(t, TaskPending.IsTerminal())
	assert.False(t, TaskRunning.IsTerminal())
	assert.True(t, TaskCompleted.IsTerminal())
	assert.True(t, TaskCompletedWithErrors.IsTerminal())
	assert.True(t, TaskFailed.IsTerminal())
}

func TestBatchStatusIsTerminal(t *testing.T) {
	assert.False(t, BatchPending.IsTerminal())
	assert.False(t, BatchSyncing.IsTerminal())
	assert.True(t, BatchCompleted.IsTerminal())
	assert.True(t, BatchFailed.IsTerminal())
}

func TestStepStatusIsTerminal(t *testing.T) {
	assert.False(t, StepPending.IsTerminal())
	assert.False(t, StepRunning.IsTerminal())
	assert.True(t, StepCompleted.IsTerminal())
	assert.True(t, StepFailed.IsTerminal())
}

func TestServiceError(t *testing.T) {
	err := &ServiceError{Code: "NOT_FOUND", Message: "store missing"}
	assert.Equal(t, "store missing", err.Error())
}
