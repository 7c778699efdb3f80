// Package service implements the sync engine's business logic on top of
// the storage repositories: task lifecycle, slot scheduling, batch
// coordination, webhook intake, and report aggregation.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/storemirror/internal/errors"
	"github.com/storemirror/internal/logging"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/storage"
	"github.com/storemirror/internal/types"
	"github.com/storemirror/internal/worker"
)

// StoreReader provides read access to the store registry. The registry is
// owned by the admin surface; the engine only reads it. GetByID returns
// nil, nil for an unknown store.
type StoreReader interface {
	GetByID(ctx context.Context, id string) (*models.Store, error)
	ListEnabled(ctx context.Context) ([]*models.Store, error)
}

// TaskRepository persists sync task state transitions. Create stores the
// task exactly as handed over, CreatedAt included; the liveness check in
// CreateTask depends on that timestamp reading back unchanged. The Get
// methods return nil, nil when no matching row exists.
type TaskRepository interface {
	Create(ctx context.Context, task *models.SyncTask) error
	GetByID(ctx context.Context, id string) (*models.SyncTask, error)
	GetLiveByStore(ctx context.Context, storeID string) (*models.SyncTask, error)
	GetLastTerminalFull(ctx context.Context, storeID string) (*models.SyncTask, error)
	MarkRunning(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, progress models.TaskProgress) error
	Complete(ctx context.Context, id string, status types.TaskStatus, progress models.TaskProgress, result *string, taskErr *string) error
	ForceFail(ctx context.Context, id string, reason string) error
}

// PullRunner executes one (store, kind) pull. Satisfied by worker.Puller.
type PullRunner interface {
	Pull(ctx context.Context, store *models.Store, fetcher worker.PageFetcher, kind types.EntityKind, mode types.SyncMode) (*worker.PullResult, error)
}

// FetcherFactory builds a page fetcher for one store.
type FetcherFactory func(store *models.Store) worker.PageFetcher

// TaskServiceConfig bounds task creation.
type TaskServiceConfig struct {
	TaskLiveness     time.Duration
	FullSyncCooldown time.Duration
}

// TaskService owns the sync task state machine. At most one live task
// exists per store; creation races are settled by the storage layer.
type TaskService struct {
	tasks      TaskRepository
	stores     StoreReader
	puller     PullRunner
	newFetcher FetcherFactory
	cfg        TaskServiceConfig
}

func NewTaskService(tasks TaskRepository, stores StoreReader, puller PullRunner, newFetcher FetcherFactory, cfg TaskServiceConfig) *TaskService {
	return &TaskService{
		tasks:      tasks,
		stores:     stores,
		puller:     puller,
		newFetcher: newFetcher,
		cfg:        cfg,
	}
}

// CreateTask creates a pending sync task for a store.
//
// A live (pending or running) task blocks creation unless it has exceeded
// the liveness window, in which case it is presumed crashed and is failed
// in place. force skips both the live-task check and the full-sync
// cooldown. A full sync within the cooldown of the previous terminal full
// sync is rejected without force.
func (s *TaskService) CreateTask(ctx context.Context, storeID string, mode types.SyncMode, kinds []types.EntityKind, force bool) (*models.SyncTask, error) {
	if !mode.IsValid() {
		return nil, apperrors.NewInvalidParameterError("mode", fmt.Sprintf("unknown sync mode %q", mode))
	}
	if len(kinds) == 0 {
		kinds = types.AllEntityKinds()
	}
	for _, kind := range kinds {
		if !kind.IsValid() {
			return nil, apperrors.NewInvalidParameterError("kinds", fmt.Sprintf("unknown entity kind %q", kind))
		}
	}

	store, err := s.stores.GetByID(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, apperrors.NewNotFoundError("store", storeID)
	}
	if !store.Enabled {
		return nil, apperrors.NewInvalidParameterError("storeId", fmt.Sprintf("store %s is disabled", storeID))
	}

	if err := s.clearLiveTask(ctx, storeID, force); err != nil {
		return nil, err
	}

	if mode == types.ModeFull && !force {
		if err := s.checkCooldown(ctx, storeID); err != nil {
			return nil, err
		}
	}

	task := &models.SyncTask{
		ID:        uuid.New().String(),
		StoreID:   storeID,
		Mode:      mode,
		Kinds:     kinds,
		Status:    types.TaskPending,
		Progress:  initialProgress(kinds),
		CreatedAt: time.Now().UTC(),
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		if errors.Is(err, storage.ErrLiveTaskExists) {
			// Lost the race against a concurrent creator.
			return nil, apperrors.NewTaskConflictError(storeID, "")
		}
		return nil, err
	}

	return task, nil
}

// clearLiveTask enforces the one-live-task-per-store rule. Abandoned
// tasks past the liveness window are failed in place rather than blocking
// the store forever.
func (s *TaskService) clearLiveTask(ctx context.Context, storeID string, force bool) error {
	live, err := s.tasks.GetLiveByStore(ctx, storeID)
	if err != nil {
		return err
	}
	if live == nil {
		return nil
	}

	abandoned := time.Since(live.CreatedAt) > s.cfg.TaskLiveness
	if !force && !abandoned {
		return apperrors.NewTaskConflictError(storeID, live.ID)
	}

	reason := "superseded by forced task creation"
	if abandoned {
		reason = fmt.Sprintf("exceeded liveness window of %s", s.cfg.TaskLiveness)
	}
	if err := s.tasks.ForceFail(ctx, live.ID, reason); err != nil {
		return err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"store":  storeID,
		"task":   live.ID,
		"reason": reason,
	}).Warn("Failed live task to make room for a new one")
	return nil
}

func (s *TaskService) checkCooldown(ctx context.Context, storeID string) error {
	last, err := s.tasks.GetLastTerminalFull(ctx, storeID)
	if err != nil {
		return err
	}
	if last == nil || last.CompletedAt == nil {
		return nil
	}
	if elapsed := time.Since(*last.CompletedAt); elapsed < s.cfg.FullSyncCooldown {
		return apperrors.NewCooldownError(storeID, int((s.cfg.FullSyncCooldown - elapsed).Minutes())+1)
	}
	return nil
}

// GetTask returns one task by id.
func (s *TaskService) GetTask(ctx context.Context, id string) (*models.SyncTask, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, apperrors.NewNotFoundError("sync task", id)
	}
	return task, nil
}

// Run executes a pending task to a terminal status: each requested kind is
// pulled in turn with per-kind progress snapshots written as it goes. A
// successful full sync is followed by an incremental pass to pick up rows
// modified while the full pull was paging.
func (s *TaskService) Run(ctx context.Context, taskID string) (*models.SyncTask, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if err := s.tasks.MarkRunning(ctx, taskID); err != nil {
		return nil, err
	}

	store, err := s.stores.GetByID(ctx, task.StoreID)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, apperrors.NewNotFoundError("store", task.StoreID)
	}

	status, progress, result, taskErr := s.runKinds(ctx, store, task)

	if err := s.tasks.Complete(ctx, taskID, status, progress, result, taskErr); err != nil {
		return nil, err
	}

	if task.Mode == types.ModeFull && status == types.TaskCompleted {
		s.runFollowUpIncremental(ctx, store, task.Kinds)
	}

	return s.GetTask(ctx, taskID)
}

func (s *TaskService) runKinds(ctx context.Context, store *models.Store, task *models.SyncTask) (types.TaskStatus, models.TaskProgress, *string, *string) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"task":  task.ID,
		"store": store.ID,
		"mode":  string(task.Mode),
	})

	fetcher := s.newFetcher(store)
	progress := task.Progress

	succeeded := 0
	failed := 0
	totalSynced := 0

	for _, kind := range task.Kinds {
		kp := progress.ForKind(kind)
		if kp == nil {
			kp = &models.KindProgress{}
			progress.SetKind(kind, kp)
		}
		kp.Status = models.KindProgressSyncing
		if err := s.tasks.UpdateProgress(ctx, task.ID, progress); err != nil {
			logger.WithError(err).Error("Failed to write progress snapshot")
		}

		result, err := s.puller.Pull(ctx, store, fetcher, kind, task.Mode)
		if result != nil {
			kp.Synced = result.Synced
			kp.Total = result.Synced
			totalSynced += result.Synced
		}
		if err != nil {
			failed++
			kp.Status = models.KindProgressFailed
			msg := err.Error()
			kp.Error = &msg
			logger.WithError(err).WithField("kind", string(kind)).Error("Pull failed")
		} else {
			succeeded++
			kp.Status = models.KindProgressCompleted
		}

		if err := s.tasks.UpdateProgress(ctx, task.ID, progress); err != nil {
			logger.WithError(err).Error("Failed to write progress snapshot")
		}
	}

	var status types.TaskStatus
	switch {
	case failed == 0:
		status = types.TaskCompleted
	case succeeded == 0:
		status = types.TaskFailed
	default:
		status = types.TaskCompletedWithErrors
	}

	summary := fmt.Sprintf("synced %d items across %d kinds (%d failed)", totalSynced, len(task.Kinds), failed)
	var taskErr *string
	if failed > 0 {
		if data, err := json.Marshal(progress); err == nil {
			msg := string(data)
			taskErr = &msg
		} else {
			msg := fmt.Sprintf("%d of %d kinds failed", failed, len(task.Kinds))
			taskErr = &msg
		}
	}

	return status, progress, &summary, taskErr
}

// runFollowUpIncremental picks up rows modified during a long full pull.
// Failures are logged, never propagated: the full sync already succeeded.
func (s *TaskService) runFollowUpIncremental(ctx context.Context, store *models.Store, kinds []types.EntityKind) {
	logger := logging.FromContext(ctx).WithField("store", store.ID)

	follow, err := s.CreateTask(ctx, store.ID, types.ModeIncremental, kinds, false)
	if err != nil {
		logger.WithError(err).Warn("Failed to create follow-up incremental task")
		return
	}
	if _, err := s.Run(ctx, follow.ID); err != nil {
		logger.WithError(err).Warn("Follow-up incremental task failed")
	}
}

// CreateAndRun is the one-call path used by the slot scheduler and batch
// coordinator.
func (s *TaskService) CreateAndRun(ctx context.Context, storeID string, mode types.SyncMode, kinds []types.EntityKind, force bool) (*models.SyncTask, error) {
	task, err := s.CreateTask(ctx, storeID, mode, kinds, force)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, task.ID)
}

func initialProgress(kinds []types.EntityKind) models.TaskProgress {
	var progress models.TaskProgress
	for _, kind := range kinds {
		progress.SetKind(kind, &models.KindProgress{Status: models.KindProgressPending})
	}
	return progress
}
