package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/storemirror/internal/errors"
	"github.com/storemirror/internal/models"
)

func slotStores() *mockStoreRepository {
	disabled := enabledStore("s3")
	disabled.Enabled = false
	return &mockStoreRepository{
		stores: map[string]*models.Store{
			"s1": enabledStore("s1"),
			"s2": enabledStore("s2"),
			"s3": disabled,
			"s4": enabledStore("s4"),
		},
		// Repository ordering: created_at ASC with id tiebreak.
		order: []string{"s1", "s2", "s3", "s4"},
	}
}

func TestResolveSlot_OrdersByCreation(t *testing.T) {
	svc := NewSlotService(slotStores(), nil, nil)

	first, err := svc.ResolveSlot(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "s1", first.ID)

	// Disabled s3 does not occupy a slot.
	third, err := svc.ResolveSlot(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "s4", third.ID)
}

func TestResolveSlot_AllowListFilters(t *testing.T) {
	svc := NewSlotService(slotStores(), nil, []string{"s2", "s4"})

	first, err := svc.ResolveSlot(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "s2", first.ID)

	second, err := svc.ResolveSlot(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "s4", second.ID)
}

func TestResolveSlot_OutOfRange(t *testing.T) {
	svc := NewSlotService(slotStores(), nil, nil)

	_, err := svc.ResolveSlot(context.Background(), 9)
	require.Error(t, err)

	var catErr *apperrors.CategorizedError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, apperrors.CategoryNotFound, catErr.Category)
}

func TestResolveSlot_InvalidSlot(t *testing.T) {
	svc := NewSlotService(slotStores(), nil, nil)

	_, err := svc.ResolveSlot(context.Background(), 0)
	assert.Error(t, err)
}

func TestSyncSlot_RunsIncrementalForResolvedStore(t *testing.T) {
	stores := slotStores()
	tasks := newMockTaskRepository()
	puller := &mockPuller{synced: 2}
	taskSvc := testTaskService(stores, tasks, puller)
	svc := NewSlotService(stores, taskSvc, nil)

	task, err := svc.SyncSlot(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, "s2", task.StoreID)
	assert.Contains(t, puller.pulls, "s2/orders/incremental")
	assert.Contains(t, puller.pulls, "s2/products/incremental")
}
