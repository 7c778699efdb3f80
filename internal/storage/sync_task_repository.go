package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/types"
)

// ErrLiveTaskExists is returned when inserting a task while another
// non-terminal task exists for the same store.
var ErrLiveTaskExists = errors.New("a live sync task already exists for this store")

// SyncTaskRepository handles sync task persistence
type SyncTaskRepository struct {
	db *PostgresDB
}

// NewSyncTaskRepository creates a new sync task repository
func NewSyncTaskRepository(db *PostgresDB) *SyncTaskRepository {
	return &SyncTaskRepository{db: db}
}

// Create inserts a new task. A partial unique index on (store_id) over
// non-terminal statuses is the serialization point: a second concurrent
// create for the same store fails with ErrLiveTaskExists instead of
// silently producing two live tasks.
func (r *SyncTaskRepository) Create(ctx context.Context, task *models.SyncTask) error {
	progress, err := json.Marshal(task.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	kinds := make([]string, len(task.Kinds))
	for i, k := range task.Kinds {
		kinds[i] = string(k)
	}

	query := `
		INSERT INTO sync_tasks (id, store_id, mode, kinds, status, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.Pool().Exec(ctx, query,
		task.ID,
		task.StoreID,
		task.Mode,
		kinds,
		task.Status,
		progress,
		task.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrLiveTaskExists
		}
		return fmt.Errorf("failed to create sync task: %w", err)
	}

	return nil
}

const taskColumns = `id, store_id, mode, kinds, status, progress, result, error, created_at, started_at, completed_at`

func scanTask(row pgx.Row) (*models.SyncTask, error) {
	var task models.SyncTask
	var kinds []string
	var progress []byte

	err := row.Scan(
		&task.ID,
		&task.StoreID,
		&task.Mode,
		&kinds,
		&task.Status,
		&progress,
		&task.Result,
		&task.Error,
		&task.CreatedAt,
		&task.StartedAt,
		&task.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Kinds = make([]types.EntityKind, len(kinds))
	for i, k := range kinds {
		task.Kinds[i] = types.EntityKind(k)
	}

	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &task.Progress); err != nil {
			return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
		}
	}

	return &task, nil
}

// GetByID retrieves a task by id. Returns nil, nil when no such task
// exists; the service layer maps that to its not-found error.
func (r *SyncTaskRepository) GetByID(ctx context.Context, id string) (*models.SyncTask, error) {
	query := `SELECT ` + taskColumns + ` FROM sync_tasks WHERE id = $1`

	task, err := scanTask(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync task: %w", err)
	}

	return task, nil
}

// GetLiveByStore retrieves the non-terminal task for a store, if any.
func (r *SyncTaskRepository) GetLiveByStore(ctx context.Context, storeID string) (*models.SyncTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM sync_tasks
		WHERE store_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	task, err := scanTask(r.db.Pool().QueryRow(ctx, query, storeID, types.TaskPending, types.TaskRunning))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get live sync task: %w", err)
	}

	return task, nil
}

// GetLastTerminalFull retrieves the most recently completed full-mode task
// for a store, used for the rerun cool-down check. Only successful runs
// count: a failed full sync must not block an immediate retry. Returns
// nil, nil when the store has no such task.
func (r *SyncTaskRepository) GetLastTerminalFull(ctx context.Context, storeID string) (*models.SyncTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM sync_tasks
		WHERE store_id = $1 AND mode = $2 AND status IN ($3, $4) AND completed_at IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT 1
	`

	task, err := scanTask(r.db.Pool().QueryRow(ctx, query, storeID, types.ModeFull, types.TaskCompleted, types.TaskCompletedWithErrors))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last full sync task: %w", err)
	}

	return task, nil
}

// MarkRunning transitions a pending task to running.
func (r *SyncTaskRepository) MarkRunning(ctx context.Context, id string) error {
	query := `
		UPDATE sync_tasks
		SET status = $2, started_at = NOW()
		WHERE id = $1 AND status = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, id, types.TaskRunning, types.TaskPending)
	if err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("task %s is not pending", id)
	}

	return nil
}

// UpdateProgress persists the task's progress snapshot.
func (r *SyncTaskRepository) UpdateProgress(ctx context.Context, id string, progress models.TaskProgress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	query := `UPDATE sync_tasks SET progress = $2 WHERE id = $1`

	_, err = r.db.Pool().Exec(ctx, query, id, data)
	if err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}

	return nil
}

// Complete transitions a task to a terminal status with its final snapshot.
func (r *SyncTaskRepository) Complete(ctx context.Context, id string, status types.TaskStatus, progress models.TaskProgress, result *string, taskErr *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	query := `
		UPDATE sync_tasks
		SET status = $2, progress = $3, result = $4, error = $5, completed_at = NOW()
		WHERE id = $1
	`

	_, err = r.db.Pool().Exec(ctx, query, id, status, data, result, taskErr)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}

	return nil
}

// ForceFail transitions a task to failed with a reason, regardless of its
// current state. Used when reclaiming abandoned tasks.
func (r *SyncTaskRepository) ForceFail(ctx context.Context, id string, reason string) error {
	query := `
		UPDATE sync_tasks
		SET status = $2, error = $3, completed_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`

	_, err := r.db.Pool().Exec(ctx, query, id, types.TaskFailed, reason, types.TaskPending, types.TaskRunning)
	if err != nil {
		return fmt.Errorf("failed to force-fail task: %w", err)
	}

	return nil
}

// FailStale force-fails every non-terminal task created before the cutoff.
// Returns the ids of reclaimed tasks.
func (r *SyncTaskRepository) FailStale(ctx context.Context, cutoff time.Time, reason string) ([]string, error) {
	query := `
		UPDATE sync_tasks
		SET status = $1, error = $2, completed_at = NOW()
		WHERE status IN ($3, $4) AND created_at < $5
		RETURNING id
	`

	rows, err := r.db.Pool().Query(ctx, query, types.TaskFailed, reason, types.TaskPending, types.TaskRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to fail stale tasks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan task id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
