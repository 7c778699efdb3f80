package service

import (
	"context"
	"fmt"

	apperrors "github.com/storemirror/internal/errors"
	"github.com/storemirror/internal/logging"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/types"
)

// SlotService maps schedule slots to stores. An external scheduler fires
// one invocation per slot; slot N resolves to the Nth enabled, allow-listed
// store ordered by creation time. The mapping is stable as long as the
// store registry does not change, so each store gets a steady recurring
// slot without any schedule state held here.
type SlotService struct {
	stores  StoreReader
	tasks   *TaskService
	allowed map[string]bool
}

func NewSlotService(stores StoreReader, tasks *TaskService, allowedStores []string) *SlotService {
	var allowed map[string]bool
	if len(allowedStores) > 0 {
		allowed = make(map[string]bool, len(allowedStores))
		for _, id := range allowedStores {
			allowed[id] = true
		}
	}
	return &SlotService{stores: stores, tasks: tasks, allowed: allowed}
}

// ResolveSlot returns the store owning the 1-based slot number.
func (s *SlotService) ResolveSlot(ctx context.Context, slot int) (*models.Store, error) {
	if slot < 1 {
		return nil, apperrors.NewInvalidParameterError("slot", "slot numbers start at 1")
	}

	eligible, err := s.EligibleStores(ctx)
	if err != nil {
		return nil, err
	}
	if slot > len(eligible) {
		return nil, apperrors.NewNotFoundError("slot", fmt.Sprintf("%d (only %d eligible stores)", slot, len(eligible)))
	}
	return eligible[slot-1], nil
}

// EligibleStores lists enabled stores that pass the allow-list, in slot
// order. The repository orders by created_at with id as tiebreak, so the
// slot assignment is deterministic.
func (s *SlotService) EligibleStores(ctx context.Context) ([]*models.Store, error) {
	stores, err := s.stores.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if s.allowed == nil {
		return stores, nil
	}

	eligible := make([]*models.Store, 0, len(stores))
	for _, store := range stores {
		if s.allowed[store.ID] {
			eligible = append(eligible, store)
		}
	}
	return eligible, nil
}

// SyncSlot resolves the slot and runs an incremental sync for its store.
func (s *SlotService) SyncSlot(ctx context.Context, slot int) (*models.SyncTask, error) {
	store, err := s.ResolveSlot(ctx, slot)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"slot":  slot,
		"store": store.ID,
	}).Info("Slot resolved, starting incremental sync")

	return s.tasks.CreateAndRun(ctx, store.ID, types.ModeIncremental, types.AllEntityKinds(), false)
}
