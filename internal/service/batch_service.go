package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/storemirror/internal/errors"
	"github.com/storemirror/internal/logging"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/storage"
	"github.com/storemirror/internal/types"
)

// BatchRepository persists batch and per-store step state.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *models.SyncBatch, sites []*models.SyncSiteResult) error
	GetBatch(ctx context.Context, id string) (*models.SyncBatch, error)
	ListSiteResults(ctx context.Context, batchID string) ([]*models.SyncSiteResult, error)
	MarkBatchSyncing(ctx context.Context, id string) error
	AdvanceStep(ctx context.Context, id string, step int) error
	CompleteBatch(ctx context.Context, id string, status types.BatchStatus, batchErr *string) error
	ClaimStep(ctx context.Context, batchID string, stepIndex int) error
	CompleteStep(ctx context.Context, batchID string, stepIndex int, status types.StepStatus, stats models.SiteStats, stepErr *string) error
}

// SyncRunner runs one store's sync and reports what happened. Satisfied
// by TaskService.
type SyncRunner interface {
	CreateAndRun(ctx context.Context, storeID string, mode types.SyncMode, kinds []types.EntityKind, force bool) (*models.SyncTask, error)
}

// BatchView is a batch with its per-store step rows, as returned to
// callers polling batch progress.
type BatchView struct {
	Batch *models.SyncBatch        `json:"batch"`
	Sites []*models.SyncSiteResult `json:"sites"`
}

// BatchService coordinates an ordered run of per-store sync steps under
// one batch id. Every targeted store gets a pending step row up front, so
// a batch's progress and outcome are fully reconstructable from storage.
type BatchService struct {
	batches BatchRepository
	stores  StoreReader
	runner  SyncRunner
	expiry  time.Duration
}

func NewBatchService(batches BatchRepository, stores StoreReader, runner SyncRunner, expiry time.Duration) *BatchService {
	return &BatchService{batches: batches, stores: stores, runner: runner, expiry: expiry}
}

// CreateBatch creates a batch covering every enabled store, each with a
// pending step row.
func (s *BatchService) CreateBatch(ctx context.Context) (*BatchView, error) {
	stores, err := s.stores.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if len(stores) == 0 {
		return nil, apperrors.NewInvalidParameterError("stores", "no enabled stores to sync")
	}

	now := time.Now().UTC()
	batch := &models.SyncBatch{
		ID:         uuid.New().String(),
		Status:     types.BatchPending,
		TotalSites: len(stores),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.expiry),
	}

	sites := make([]*models.SyncSiteResult, len(stores))
	for i, store := range stores {
		sites[i] = &models.SyncSiteResult{
			BatchID:   batch.ID,
			StepIndex: i,
			StoreID:   store.ID,
			StoreName: store.Name,
			Status:    types.StepPending,
		}
	}

	if err := s.batches.CreateBatch(ctx, batch, sites); err != nil {
		return nil, err
	}
	return &BatchView{Batch: batch, Sites: sites}, nil
}

// GetBatch returns a batch with its step rows.
func (s *BatchService) GetBatch(ctx context.Context, id string) (*BatchView, error) {
	batch, err := s.batches.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, apperrors.NewNotFoundError("sync batch", id)
	}
	sites, err := s.batches.ListSiteResults(ctx, id)
	if err != nil {
		return nil, err
	}
	return &BatchView{Batch: batch, Sites: sites}, nil
}

// RunBatch executes the batch's steps in order. Each step is claimed
// before running, so a concurrent runner of the same batch skips steps
// already taken instead of double-syncing a store. The batch ends
// completed only when every step completed.
func (s *BatchService) RunBatch(ctx context.Context, id string) (*BatchView, error) {
	view, err := s.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if view.Batch.Status.IsTerminal() {
		return view, apperrors.NewConflictError("BATCH_ALREADY_TERMINAL", "batch has already finished")
	}

	if err := s.batches.MarkBatchSyncing(ctx, id); err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).WithField("batch", id)
	anyFailed := false

	for _, site := range view.Sites {
		if site.Status.IsTerminal() {
			if site.Status == types.StepFailed {
				anyFailed = true
			}
			continue
		}

		if err := s.batches.ClaimStep(ctx, id, site.StepIndex); err != nil {
			if errors.Is(err, storage.ErrStepAlreadyClaimed) {
				logger.WithField("step", site.StepIndex).Info("Step already claimed, skipping")
				continue
			}
			return nil, err
		}
		if err := s.batches.AdvanceStep(ctx, id, site.StepIndex); err != nil {
			logger.WithError(err).Error("Failed to advance batch step pointer")
		}

		stats, stepErr := s.runStep(ctx, site.StoreID)
		if stepErr != nil {
			anyFailed = true
			msg := stepErr.Error()
			if err := s.batches.CompleteStep(ctx, id, site.StepIndex, types.StepFailed, stats, &msg); err != nil {
				logger.WithError(err).Error("Failed to record step failure")
			}
			logger.WithError(stepErr).WithFields(map[string]interface{}{
				"step":  site.StepIndex,
				"store": site.StoreID,
			}).Error("Batch step failed")
			continue
		}

		if err := s.batches.CompleteStep(ctx, id, site.StepIndex, types.StepCompleted, stats, nil); err != nil {
			logger.WithError(err).Error("Failed to record step completion")
		}
	}

	// Steps claimed by another runner may still be running; the batch
	// stays syncing until every step is terminal.
	sites, err := s.batches.ListSiteResults(ctx, id)
	if err != nil {
		return nil, err
	}
	allTerminal := true
	for _, site := range sites {
		if !site.Status.IsTerminal() {
			allTerminal = false
		}
		if site.Status == types.StepFailed {
			anyFailed = true
		}
	}

	if allTerminal {
		status := types.BatchCompleted
		var batchErr *string
		if anyFailed {
			status = types.BatchFailed
			msg := "one or more store syncs failed"
			batchErr = &msg
		}
		if err := s.batches.CompleteBatch(ctx, id, status, batchErr); err != nil {
			return nil, err
		}
	}

	return s.GetBatch(ctx, id)
}

func (s *BatchService) runStep(ctx context.Context, storeID string) (models.SiteStats, error) {
	task, err := s.runner.CreateAndRun(ctx, storeID, types.ModeIncremental, types.AllEntityKinds(), false)
	if err != nil {
		if apperrors.IsConflict(err) {
			// Another run owns this store right now; count the step as
			// skipped work rather than a failure.
			return models.SiteStats{Skipped: 1}, err
		}
		return models.SiteStats{Failed: 1}, err
	}

	stats := models.SiteStats{}
	for _, kind := range types.AllEntityKinds() {
		kp := task.Progress.ForKind(kind)
		if kp == nil {
			continue
		}
		stats.Checked += kp.Total
		stats.Changed += kp.Synced
		if kp.Status == models.KindProgressFailed {
			stats.Failed++
		}
	}

	if task.Status == types.TaskFailed {
		return stats, apperrors.NewInternalError("store sync failed", nil)
	}
	return stats, nil
}
