package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/storemirror/internal/models"
)

// OrderRepository handles mirrored order persistence
type OrderRepository struct {
	db *PostgresDB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *PostgresDB) *OrderRepository {
	return &OrderRepository{db: db}
}

// UpsertPage writes one page of pulled orders in a single transaction. The
// upsert is keyed by (store_id, remote_id) so re-processing a page after a
// crash is safe.
func (r *OrderRepository) UpsertPage(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	query := `
		INSERT INTO orders (
			store_id, remote_id, number, status, total, currency,
			items, placed_at, modified_at, mirrored_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (store_id, remote_id)
		DO UPDATE SET
			number = EXCLUDED.number,
			status = EXCLUDED.status,
			total = EXCLUDED.total,
			currency = EXCLUDED.currency,
			items = EXCLUDED.items,
			placed_at = EXCLUDED.placed_at,
			modified_at = EXCLUDED.modified_at,
			mirrored_at = NOW()
	`

	for _, order := range orders {
		items, err := json.Marshal(order.Items)
		if err != nil {
			return fmt.Errorf("failed to marshal order items: %w", err)
		}

		_, err = tx.Exec(ctx, query,
			order.StoreID,
			order.RemoteID,
			order.Number,
			order.Status,
			order.Total,
			order.Currency,
			items,
			order.PlacedAt,
			order.ModifiedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert order %d: %w", order.RemoteID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit order page: %w", err)
	}

	return nil
}

// Get retrieves one mirrored order.
func (r *OrderRepository) Get(ctx context.Context, storeID string, remoteID int64) (*models.Order, error) {
	query := `
		SELECT store_id, remote_id, number, status, total, currency,
		       items, placed_at, modified_at, mirrored_at
		FROM orders
		WHERE store_id = $1 AND remote_id = $2
	`

	var order models.Order
	var items []byte

	err := r.db.Pool().QueryRow(ctx, query, storeID, remoteID).Scan(
		&order.StoreID,
		&order.RemoteID,
		&order.Number,
		&order.Status,
		&order.Total,
		&order.Currency,
		&items,
		&order.PlacedAt,
		&order.ModifiedAt,
		&order.MirroredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if len(items) > 0 {
		if err := json.Unmarshal(items, &order.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order items: %w", err)
		}
	}

	return &order, nil
}

// ListInRange retrieves orders placed inside [from, to) across all stores.
func (r *OrderRepository) ListInRange(ctx context.Context, from, to time.Time) ([]*models.Order, error) {
	query := `
		SELECT store_id, remote_id, number, status, total, currency,
		       items, placed_at, modified_at, mirrored_at
		FROM orders
		WHERE placed_at >= $1 AND placed_at < $2
		ORDER BY placed_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		var order models.Order
		var items []byte

		err := rows.Scan(
			&order.StoreID,
			&order.RemoteID,
			&order.Number,
			&order.Status,
			&order.Total,
			&order.Currency,
			&items,
			&order.PlacedAt,
			&order.ModifiedAt,
			&order.MirroredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		if len(items) > 0 {
			if err := json.Unmarshal(items, &order.Items); err != nil {
				return nil, fmt.Errorf("failed to unmarshal order items: %w", err)
			}
		}

		orders = append(orders, &order)
	}

	return orders, rows.Err()
}
