package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/types"
)

// CheckpointRepository handles sync checkpoint persistence
type CheckpointRepository struct {
	db *PostgresDB
}

// NewCheckpointRepository creates a new checkpoint repository
func NewCheckpointRepository(db *PostgresDB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get retrieves the checkpoint for a (store, kind) pair. Returns nil without
// error when no checkpoint exists yet.
func (r *CheckpointRepository) Get(ctx context.Context, storeID string, kind types.EntityKind) (*models.Checkpoint, error) {
	query := `
		SELECT store_id, kind, last_remote_id, last_modified_at,
		       last_run_status, last_run_error, synced_count, updated_at
		FROM checkpoints
		WHERE store_id = $1 AND kind = $2
	`

	var cp models.Checkpoint
	err := r.db.Pool().QueryRow(ctx, query, storeID, kind).Scan(
		&cp.StoreID,
		&cp.Kind,
		&cp.LastRemoteID,
		&cp.LastModifiedAt,
		&cp.LastRunStatus,
		&cp.LastRunError,
		&cp.SyncedCount,
		&cp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	return &cp, nil
}

// Upsert creates or overwrites the checkpoint for a (store, kind) pair.
// The cursor is guarded with GREATEST so a concurrent or replayed writer can
// never move it backward.
func (r *CheckpointRepository) Upsert(ctx context.Context, cp *models.Checkpoint) error {
	query := `
		INSERT INTO checkpoints (
			store_id, kind, last_remote_id, last_modified_at,
			last_run_status, last_run_error, synced_count, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (store_id, kind)
		DO UPDATE SET
			last_remote_id = GREATEST(checkpoints.last_remote_id, EXCLUDED.last_remote_id),
			last_modified_at = GREATEST(checkpoints.last_modified_at, EXCLUDED.last_modified_at),
			last_run_status = EXCLUDED.last_run_status,
			last_run_error = EXCLUDED.last_run_error,
			synced_count = EXCLUDED.synced_count,
			updated_at = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query,
		cp.StoreID,
		cp.Kind,
		cp.LastRemoteID,
		cp.LastModifiedAt,
		cp.LastRunStatus,
		cp.LastRunError,
		cp.SyncedCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert checkpoint: %w", err)
	}

	return nil
}

// Reset clears the cursor for a (store, kind) pair ahead of a full rebuild.
func (r *CheckpointRepository) Reset(ctx context.Context, storeID string, kind types.EntityKind) error {
	query := `
		INSERT INTO checkpoints (
			store_id, kind, last_remote_id, last_modified_at,
			last_run_status, last_run_error, synced_count, updated_at
		)
		VALUES ($1, $2, 0, to_timestamp(0), $3, NULL, 0, NOW())
		ON CONFLICT (store_id, kind)
		DO UPDATE SET
			last_remote_id = 0,
			last_modified_at = to_timestamp(0),
			last_run_status = EXCLUDED.last_run_status,
			last_run_error = NULL,
			synced_count = 0,
			updated_at = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query, storeID, kind, models.CheckpointRunOK)
	if err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}

	return nil
}

// MarkRunOutcome records the final status of a pull without touching the cursor.
func (r *CheckpointRepository) MarkRunOutcome(ctx context.Context, storeID string, kind types.EntityKind, status string, runErr *string) error {
	query := `
		UPDATE checkpoints
		SET last_run_status = $3, last_run_error = $4, updated_at = NOW()
		WHERE store_id = $1 AND kind = $2
	`

	_, err := r.db.Pool().Exec(ctx, query, storeID, kind, status, runErr)
	if err != nil {
		return fmt.Errorf("failed to mark checkpoint outcome: %w", err)
	}

	return nil
}
