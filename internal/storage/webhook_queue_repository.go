package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/types"
)

// WebhookQueueRepository handles the outbound delivery queue
type WebhookQueueRepository struct {
	db *PostgresDB
}

// NewWebhookQueueRepository creates a new webhook queue repository
func NewWebhookQueueRepository(db *PostgresDB) *WebhookQueueRepository {
	return &WebhookQueueRepository{db: db}
}

// Enqueue inserts a new pending delivery item.
func (r *WebhookQueueRepository) Enqueue(ctx context.Context, item *models.WebhookQueueItem) error {
	query := `
		INSERT INTO webhook_queue (
			id, store_id, target_url, event_type, payload, signature,
			attempts, max_attempts, status, scheduled_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		item.ID,
		item.StoreID,
		item.TargetURL,
		item.EventType,
		[]byte(item.Payload),
		item.Signature,
		item.Attempts,
		item.MaxAttempts,
		item.Status,
		item.ScheduledAt,
		item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}

	return nil
}

const queueColumns = `id, store_id, target_url, event_type, payload, signature,
	attempts, max_attempts, status, error, scheduled_at, last_attempt_at, created_at`

func scanQueueItem(row pgx.Row) (*models.WebhookQueueItem, error) {
	var item models.WebhookQueueItem
	var payload []byte

	err := row.Scan(
		&item.ID,
		&item.StoreID,
		&item.TargetURL,
		&item.EventType,
		&payload,
		&item.Signature,
		&item.Attempts,
		&item.MaxAttempts,
		&item.Status,
		&item.Error,
		&item.ScheduledAt,
		&item.LastAttemptAt,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Payload = payload
	return &item, nil
}

// GetByID retrieves a queue item by id. Returns nil, nil when no such
// item exists.
func (r *WebhookQueueRepository) GetByID(ctx context.Context, id string) (*models.WebhookQueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM webhook_queue WHERE id = $1`

	item, err := scanQueueItem(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}

	return item, nil
}

// ClaimDue atomically claims up to limit due items for delivery, moving them
// from pending/failed to in_flight. The claiming UPDATE is what prevents two
// workers from double-sending the same item. The claim time is stamped into
// last_attempt_at so the stuck-release sweep measures from the claim, not
// from how long the item sat due in a backlog.
func (r *WebhookQueueRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.WebhookQueueItem, error) {
	query := `
		UPDATE webhook_queue
		SET status = $1, last_attempt_at = $4
		WHERE id IN (
			SELECT id FROM webhook_queue
			WHERE status IN ($2, $3) AND scheduled_at <= $4
			ORDER BY scheduled_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns

	rows, err := r.db.Pool().Query(ctx, query, types.DeliveryInFlight, types.DeliveryPending, types.DeliveryFailed, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due deliveries: %w", err)
	}
	defer rows.Close()

	var items []*models.WebhookQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// MarkSent records a successful delivery.
func (r *WebhookQueueRepository) MarkSent(ctx context.Context, id string, attemptedAt time.Time) error {
	query := `
		UPDATE webhook_queue
		SET status = $2, attempts = attempts + 1, last_attempt_at = $3, error = NULL
		WHERE id = $1 AND status = $4
	`

	_, err := r.db.Pool().Exec(ctx, query, id, types.DeliverySent, attemptedAt, types.DeliveryInFlight)
	if err != nil {
		return fmt.Errorf("failed to mark delivery sent: %w", err)
	}

	return nil
}

// MarkFailed records a failed attempt and reschedules the item; items that
// reached max_attempts move to dead and leave the retry path for good.
func (r *WebhookQueueRepository) MarkFailed(ctx context.Context, id string, attemptedAt time.Time, nextAttemptAt time.Time, deliveryErr string) error {
	query := `
		UPDATE webhook_queue
		SET attempts = attempts + 1,
		    last_attempt_at = $2,
		    error = $3,
		    scheduled_at = $4,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN $5::text ELSE $6::text END
		WHERE id = $1 AND status = $7
	`

	_, err := r.db.Pool().Exec(ctx, query, id, attemptedAt, deliveryErr, nextAttemptAt,
		string(types.DeliveryDead), string(types.DeliveryFailed), types.DeliveryInFlight)
	if err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}

	return nil
}

// ListDead returns dead-lettered items for manual inspection, newest first.
func (r *WebhookQueueRepository) ListDead(ctx context.Context, limit int) ([]*models.WebhookQueueItem, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + queueColumns + ` FROM webhook_queue WHERE status = $1 ORDER BY last_attempt_at DESC LIMIT $2`

	rows, err := r.db.Pool().Query(ctx, query, types.DeliveryDead, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead deliveries: %w", err)
	}
	defer rows.Close()

	var items []*models.WebhookQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// ReleaseStuckInFlight returns in_flight items claimed before the cutoff to
// the failed state so a later sweep can retry them. Covers workers that died
// mid-delivery without reporting. Keys on the claim stamp written by
// ClaimDue, so a freshly claimed backlog item is never released while its
// worker is still delivering it.
func (r *WebhookQueueRepository) ReleaseStuckInFlight(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE webhook_queue
		SET status = $1, error = COALESCE(error, 'delivery worker timed out')
		WHERE status = $2 AND last_attempt_at < $3
	`

	result, err := r.db.Pool().Exec(ctx, query, types.DeliveryFailed, types.DeliveryInFlight, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to release stuck deliveries: %w", err)
	}

	return result.RowsAffected(), nil
}
