package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/types"
)

// ErrStepAlreadyClaimed is returned when claiming a batch step that another
// worker already transitioned out of pending.
var ErrStepAlreadyClaimed = errors.New("batch step already claimed")

// BatchRepository handles sync batch and per-site result persistence
type BatchRepository struct {
	db *PostgresDB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *PostgresDB) *BatchRepository {
	return &BatchRepository{db: db}
}

// CreateBatch inserts a batch together with one pending site result per
// targeted store, in a single transaction.
func (r *BatchRepository) CreateBatch(ctx context.Context, batch *models.SyncBatch, sites []*models.SyncSiteResult) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO sync_batches (id, status, current_step, total_sites, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, batch.ID, batch.Status, batch.CurrentStep, batch.TotalSites, batch.CreatedAt, batch.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	for _, site := range sites {
		stats, err := json.Marshal(site.Stats)
		if err != nil {
			return fmt.Errorf("failed to marshal site stats: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO sync_site_results (batch_id, step_index, store_id, store_name, status, stats)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, site.BatchID, site.StepIndex, site.StoreID, site.StoreName, site.Status, stats)
		if err != nil {
			return fmt.Errorf("failed to insert site result: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch creation: %w", err)
	}

	return nil
}

// GetBatch retrieves a batch by id. Returns nil, nil when no such batch
// exists; the service layer maps that to its not-found error.
func (r *BatchRepository) GetBatch(ctx context.Context, id string) (*models.SyncBatch, error) {
	query := `
		SELECT id, status, current_step, total_sites, error, created_at, started_at, completed_at, expires_at
		FROM sync_batches
		WHERE id = $1
	`

	var batch models.SyncBatch
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&batch.ID,
		&batch.Status,
		&batch.CurrentStep,
		&batch.TotalSites,
		&batch.Error,
		&batch.CreatedAt,
		&batch.StartedAt,
		&batch.CompletedAt,
		&batch.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	return &batch, nil
}

// ListSiteResults retrieves the per-store rows of a batch in step order.
func (r *BatchRepository) ListSiteResults(ctx context.Context, batchID string) ([]*models.SyncSiteResult, error) {
	query := `
		SELECT batch_id, step_index, store_id, store_name, status, stats, error, started_at, completed_at
		FROM sync_site_results
		WHERE batch_id = $1
		ORDER BY step_index ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list site results: %w", err)
	}
	defer rows.Close()

	var results []*models.SyncSiteResult
	for rows.Next() {
		var site models.SyncSiteResult
		var stats []byte

		err := rows.Scan(
			&site.BatchID,
			&site.StepIndex,
			&site.StoreID,
			&site.StoreName,
			&site.Status,
			&stats,
			&site.Error,
			&site.StartedAt,
			&site.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site result: %w", err)
		}

		if len(stats) > 0 {
			if err := json.Unmarshal(stats, &site.Stats); err != nil {
				return nil, fmt.Errorf("failed to unmarshal site stats: %w", err)
			}
		}

		results = append(results, &site)
	}

	return results, rows.Err()
}

// MarkBatchSyncing transitions a pending batch to syncing.
func (r *BatchRepository) MarkBatchSyncing(ctx context.Context, id string) error {
	query := `
		UPDATE sync_batches
		SET status = $2, started_at = NOW()
		WHERE id = $1 AND status = $3
	`

	_, err := r.db.Pool().Exec(ctx, query, id, types.BatchSyncing, types.BatchPending)
	if err != nil {
		return fmt.Errorf("failed to mark batch syncing: %w", err)
	}

	return nil
}

// AdvanceStep records the step index the batch is currently on.
func (r *BatchRepository) AdvanceStep(ctx context.Context, id string, step int) error {
	query := `UPDATE sync_batches SET current_step = $2 WHERE id = $1`

	_, err := r.db.Pool().Exec(ctx, query, id, step)
	if err != nil {
		return fmt.Errorf("failed to advance batch step: %w", err)
	}

	return nil
}

// CompleteBatch transitions a batch to a terminal status. Already-terminal
// batches are left untouched, which keeps reclamation idempotent.
func (r *BatchRepository) CompleteBatch(ctx context.Context, id string, status types.BatchStatus, batchErr *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	query := `
		UPDATE sync_batches
		SET status = $2, error = $3, completed_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`

	_, err := r.db.Pool().Exec(ctx, query, id, status, batchErr, types.BatchPending, types.BatchSyncing)
	if err != nil {
		return fmt.Errorf("failed to complete batch: %w", err)
	}

	return nil
}

// ClaimStep transitions a step from pending to running. The guarded update is
// the claim: a second claimer sees zero rows affected and backs off.
func (r *BatchRepository) ClaimStep(ctx context.Context, batchID string, stepIndex int) error {
	query := `
		UPDATE sync_site_results
		SET status = $3, started_at = NOW()
		WHERE batch_id = $1 AND step_index = $2 AND status = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, batchID, stepIndex, types.StepRunning, types.StepPending)
	if err != nil {
		return fmt.Errorf("failed to claim step: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStepAlreadyClaimed
	}

	return nil
}

// CompleteStep transitions a running step to a terminal status with stats.
func (r *BatchRepository) CompleteStep(ctx context.Context, batchID string, stepIndex int, status types.StepStatus, stats models.SiteStats, stepErr *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal site stats: %w", err)
	}

	query := `
		UPDATE sync_site_results
		SET status = $3, stats = $4, error = $5, completed_at = NOW()
		WHERE batch_id = $1 AND step_index = $2 AND status = $6
	`

	_, err = r.db.Pool().Exec(ctx, query, batchID, stepIndex, status, data, stepErr, types.StepRunning)
	if err != nil {
		return fmt.Errorf("failed to complete step: %w", err)
	}

	return nil
}

// FailStep force-fails a step regardless of whether it is pending or
// running. Used by the reclamation sweep; terminal steps are untouched.
func (r *BatchRepository) FailStep(ctx context.Context, batchID string, stepIndex int, reason string) error {
	query := `
		UPDATE sync_site_results
		SET status = $3, error = $4, completed_at = NOW()
		WHERE batch_id = $1 AND step_index = $2 AND status IN ($5, $6)
	`

	_, err := r.db.Pool().Exec(ctx, query, batchID, stepIndex, types.StepFailed, reason, types.StepPending, types.StepRunning)
	if err != nil {
		return fmt.Errorf("failed to fail step: %w", err)
	}

	return nil
}

// ListExpired returns non-terminal batches whose expiry timestamp has passed.
func (r *BatchRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.SyncBatch, error) {
	query := `
		SELECT id, status, current_step, total_sites, error, created_at, started_at, completed_at, expires_at
		FROM sync_batches
		WHERE status IN ($1, $2) AND expires_at < $3
	`

	return r.queryBatches(ctx, query, types.BatchPending, types.BatchSyncing, now)
}

// ListStalePending returns non-terminal batches older than the cutoff in
// which no step ever left pending.
func (r *BatchRepository) ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.SyncBatch, error) {
	query := `
		SELECT b.id, b.status, b.current_step, b.total_sites, b.error, b.created_at, b.started_at, b.completed_at, b.expires_at
		FROM sync_batches b
		WHERE b.status IN ($1, $2)
		  AND b.created_at < $3
		  AND NOT EXISTS (
			SELECT 1 FROM sync_site_results s
			WHERE s.batch_id = b.id AND s.status <> $4
		  )
	`

	return r.queryBatches(ctx, query, types.BatchPending, types.BatchSyncing, cutoff, types.StepPending)
}

// ListStuckRunningSteps returns steps that have been running since before the
// cutoff, on non-terminal batches.
func (r *BatchRepository) ListStuckRunningSteps(ctx context.Context, cutoff time.Time) ([]*models.SyncSiteResult, error) {
	query := `
		SELECT s.batch_id, s.step_index, s.store_id, s.store_name, s.status, s.stats, s.error, s.started_at, s.completed_at
		FROM sync_site_results s
		JOIN sync_batches b ON b.id = s.batch_id
		WHERE s.status = $1 AND s.started_at < $2 AND b.status IN ($3, $4)
	`

	rows, err := r.db.Pool().Query(ctx, query, types.StepRunning, cutoff, types.BatchPending, types.BatchSyncing)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck steps: %w", err)
	}
	defer rows.Close()

	var results []*models.SyncSiteResult
	for rows.Next() {
		var site models.SyncSiteResult
		var stats []byte

		err := rows.Scan(
			&site.BatchID,
			&site.StepIndex,
			&site.StoreID,
			&site.StoreName,
			&site.Status,
			&stats,
			&site.Error,
			&site.StartedAt,
			&site.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stuck step: %w", err)
		}

		if len(stats) > 0 {
			if err := json.Unmarshal(stats, &site.Stats); err != nil {
				return nil, fmt.Errorf("failed to unmarshal site stats: %w", err)
			}
		}

		results = append(results, &site)
	}

	return results, rows.Err()
}

func (r *BatchRepository) queryBatches(ctx context.Context, query string, args ...interface{}) ([]*models.SyncBatch, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.SyncBatch
	for rows.Next() {
		var batch models.SyncBatch
		err := rows.Scan(
			&batch.ID,
			&batch.Status,
			&batch.CurrentStep,
			&batch.TotalSites,
			&batch.Error,
			&batch.CreatedAt,
			&batch.StartedAt,
			&batch.CompletedAt,
			&batch.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, &batch)
	}

	return batches, rows.Err()
}
