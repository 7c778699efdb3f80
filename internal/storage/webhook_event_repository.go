package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/storemirror/internal/models"
)

// WebhookEventRepository handles the append-only inbound webhook audit log
type WebhookEventRepository struct {
	db *PostgresDB
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *PostgresDB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Create appends an audit row. Events are recorded for every inbound push,
// including rejected ones.
func (r *WebhookEventRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
	}

	query := `
		INSERT INTO webhook_events (
			id, store_id, event_type, object_type, object_id,
			status, error, duration_ms, metadata, received_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		event.ID,
		event.StoreID,
		event.EventType,
		event.ObjectType,
		event.ObjectID,
		event.Status,
		event.Error,
		event.DurationMs,
		metadata,
		event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook event: %w", err)
	}

	return nil
}

// ListByStore retrieves recent events for a store, newest first.
func (r *WebhookEventRepository) ListByStore(ctx context.Context, storeID string, limit int) ([]*models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, store_id, event_type, object_type, object_id,
		       status, error, duration_ms, metadata, received_at
		FROM webhook_events
		WHERE store_id = $1
		ORDER BY received_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer rows.Close()

	var events []*models.WebhookEvent
	for rows.Next() {
		var event models.WebhookEvent
		var metadata []byte

		err := rows.Scan(
			&event.ID,
			&event.StoreID,
			&event.EventType,
			&event.ObjectType,
			&event.ObjectID,
			&event.Status,
			&event.Error,
			&event.DurationMs,
			&metadata,
			&event.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}

		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
			}
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}

// PruneOlderThan deletes audit rows received before the cutoff and returns
// how many were removed.
func (r *WebhookEventRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM webhook_events WHERE received_at < $1`

	result, err := r.db.Pool().Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune webhook events: %w", err)
	}

	return result.RowsAffected(), nil
}
