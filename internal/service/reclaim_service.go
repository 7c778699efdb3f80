package service

import (
	"context"
	"fmt"
	"time"

	"github.com/storemirror/internal/logging"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/types"
)

// ReclaimBatchRepository is the slice of the batch repository the sweeper
// needs. All transitions behind it are guarded on non-terminal status, so
// re-running a sweep over already-reclaimed rows is a no-op.
type ReclaimBatchRepository interface {
	ListExpired(ctx context.Context, now time.Time) ([]*models.SyncBatch, error)
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.SyncBatch, error)
	ListStuckRunningSteps(ctx context.Context, cutoff time.Time) ([]*models.SyncSiteResult, error)
	FailStep(ctx context.Context, batchID string, stepIndex int, reason string) error
	CompleteBatch(ctx context.Context, id string, status types.BatchStatus, batchErr *string) error
}

// StaleTaskFailer fails sync tasks stuck past the liveness window.
type StaleTaskFailer interface {
	FailStale(ctx context.Context, cutoff time.Time, reason string) ([]string, error)
}

// StuckDeliveryReleaser returns abandoned in-flight deliveries to the
// retry pool.
type StuckDeliveryReleaser interface {
	ReleaseStuckInFlight(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventPruner deletes audit rows past the retention window.
type EventPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReclaimConfig holds the sweep thresholds.
type ReclaimConfig struct {
	TaskLiveness   time.Duration
	BatchLiveness  time.Duration
	StepLiveness   time.Duration
	EventRetention time.Duration
}

// ReclaimReport summarizes one sweep.
type ReclaimReport struct {
	ExpiredBatches      int   `json:"expiredBatches"`
	StalePendingBatches int   `json:"stalePendingBatches"`
	StuckSteps          int   `json:"stuckSteps"`
	StaleTasks          int   `json:"staleTasks"`
	ReleasedDeliveries  int64 `json:"releasedDeliveries"`
	PrunedEvents        int64 `json:"prunedEvents"`
}

// ReclaimService is the periodic sweep that turns crashed invocations'
// leftover state back into something schedulable. A step reclaimed while
// its run is still alive is marked failed here and left to finish; the
// guarded transitions make the run's own late completion write a no-op.
type ReclaimService struct {
	batches    ReclaimBatchRepository
	tasks      StaleTaskFailer
	deliveries StuckDeliveryReleaser
	events     EventPruner
	cfg        ReclaimConfig
}

func NewReclaimService(batches ReclaimBatchRepository, tasks StaleTaskFailer, deliveries StuckDeliveryReleaser, events EventPruner, cfg ReclaimConfig) *ReclaimService {
	return &ReclaimService{
		batches:    batches,
		tasks:      tasks,
		deliveries: deliveries,
		events:     events,
		cfg:        cfg,
	}
}

// Run performs one full sweep. Partial failures are logged and the sweep
// continues; the next run picks up whatever this one missed.
func (s *ReclaimService) Run(ctx context.Context) (*ReclaimReport, error) {
	logger := logging.FromContext(ctx).WithField("component", "reclaim")
	now := time.Now().UTC()
	report := &ReclaimReport{}

	if err := s.reclaimExpired(ctx, now, report); err != nil {
		logger.WithError(err).Error("Failed to reclaim expired batches")
	}
	if err := s.reclaimStalePending(ctx, now, report); err != nil {
		logger.WithError(err).Error("Failed to reclaim stale pending batches")
	}
	if err := s.reclaimStuckSteps(ctx, now, report); err != nil {
		logger.WithError(err).Error("Failed to reclaim stuck steps")
	}

	if s.tasks != nil {
		ids, err := s.tasks.FailStale(ctx, now.Add(-s.cfg.TaskLiveness), "reclaimed: exceeded liveness window")
		if err != nil {
			logger.WithError(err).Error("Failed to reclaim stale tasks")
		}
		report.StaleTasks = len(ids)
	}

	if s.deliveries != nil {
		released, err := s.deliveries.ReleaseStuckInFlight(ctx, now.Add(-s.cfg.StepLiveness))
		if err != nil {
			logger.WithError(err).Error("Failed to release stuck deliveries")
		}
		report.ReleasedDeliveries = released
	}

	if s.events != nil && s.cfg.EventRetention > 0 {
		pruned, err := s.events.PruneOlderThan(ctx, now.Add(-s.cfg.EventRetention))
		if err != nil {
			logger.WithError(err).Error("Failed to prune webhook events")
		}
		report.PrunedEvents = pruned
	}

	logger.WithFields(map[string]interface{}{
		"expiredBatches":      report.ExpiredBatches,
		"stalePendingBatches": report.StalePendingBatches,
		"stuckSteps":          report.StuckSteps,
		"staleTasks":          report.StaleTasks,
		"releasedDeliveries":  report.ReleasedDeliveries,
		"prunedEvents":        report.PrunedEvents,
	}).Info("Reclamation sweep finished")

	return report, nil
}

func (s *ReclaimService) reclaimExpired(ctx context.Context, now time.Time, report *ReclaimReport) error {
	expired, err := s.batches.ListExpired(ctx, now)
	if err != nil {
		return err
	}
	for _, batch := range expired {
		msg := fmt.Sprintf("reclaimed: batch expired at %s", batch.ExpiresAt.Format(time.RFC3339))
		if err := s.batches.CompleteBatch(ctx, batch.ID, types.BatchFailed, &msg); err != nil {
			return err
		}
		report.ExpiredBatches++
	}
	return nil
}

func (s *ReclaimService) reclaimStalePending(ctx context.Context, now time.Time, report *ReclaimReport) error {
	stale, err := s.batches.ListStalePending(ctx, now.Add(-s.cfg.BatchLiveness))
	if err != nil {
		return err
	}
	for _, batch := range stale {
		msg := fmt.Sprintf("reclaimed: no step started within %s", s.cfg.BatchLiveness)
		if err := s.batches.CompleteBatch(ctx, batch.ID, types.BatchFailed, &msg); err != nil {
			return err
		}
		report.StalePendingBatches++
	}
	return nil
}

func (s *ReclaimService) reclaimStuckSteps(ctx context.Context, now time.Time, report *ReclaimReport) error {
	stuck, err := s.batches.ListStuckRunningSteps(ctx, now.Add(-s.cfg.StepLiveness))
	if err != nil {
		return err
	}
	for _, step := range stuck {
		reason := fmt.Sprintf("reclaimed: step running longer than %s", s.cfg.StepLiveness)
		if err := s.batches.FailStep(ctx, step.BatchID, step.StepIndex, reason); err != nil {
			return err
		}
		msg := fmt.Sprintf("reclaimed: step %d timed out", step.StepIndex)
		if err := s.batches.CompleteBatch(ctx, step.BatchID, types.BatchFailed, &msg); err != nil {
			return err
		}
		report.StuckSteps++
	}
	return nil
}
