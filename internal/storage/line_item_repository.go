package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/types"
)

// LineItemRow is one flattened order line item as stored in ClickHouse.
// Rows carry the originating store's commercial type so report-time
// normalization does not need a Postgres join per row.
type LineItemRow struct {
	StoreID   string
	StoreType types.StoreType
	OrderID   int64
	SKU       string
	Name      string
	Quantity  int32
	UnitPrice string
	PlacedAt  time.Time
}

// LineItemRepository handles order line-item analytics storage in ClickHouse
type LineItemRepository struct {
	db *ClickHouseDB
}

// NewLineItemRepository creates a new line item repository
func NewLineItemRepository(db *ClickHouseDB) *LineItemRepository {
	return &LineItemRepository{db: db}
}

// BatchInsert inserts the flattened line items of one pulled order page.
// The table is a ReplacingMergeTree keyed by (store_id, order_id, sku), so
// re-inserting a re-processed page collapses to the latest version.
func (r *LineItemRepository) BatchInsert(ctx context.Context, items []*LineItemRow) error {
	if len(items) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO order_line_items (
			store_id, store_type, order_id, sku, name, quantity, unit_price, placed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare line item batch: %w", err)
	}

	for _, item := range items {
		err := batch.Append(
			item.StoreID,
			string(item.StoreType),
			item.OrderID,
			item.SKU,
			item.Name,
			item.Quantity,
			item.UnitPrice,
			item.PlacedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append line item: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send line item batch: %w", err)
	}

	return nil
}

// FlattenOrders converts mirrored orders to line item rows for insertion.
func FlattenOrders(store *models.Store, orders []*models.Order) []*LineItemRow {
	var rows []*LineItemRow
	for _, order := range orders {
		for _, item := range order.Items {
			rows = append(rows, &LineItemRow{
				StoreID:   store.ID,
				StoreType: store.Type,
				OrderID:   order.RemoteID,
				SKU:       item.SKU,
				Name:      item.Name,
				Quantity:  int32(item.Quantity),
				UnitPrice: item.UnitPrice,
				PlacedAt:  order.PlacedAt,
			})
		}
	}
	return rows
}

// ListInRange retrieves line items placed inside [from, to), deduplicated to
// the latest version of each (store, order, sku) row.
func (r *LineItemRepository) ListInRange(ctx context.Context, from, to time.Time) ([]*LineItemRow, error) {
	query := `
		SELECT store_id, store_type, order_id, sku, name, quantity, unit_price, placed_at
		FROM order_line_items FINAL
		WHERE placed_at >= ? AND placed_at < ?
		ORDER BY placed_at ASC
	`

	rows, err := r.db.Conn().Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []*LineItemRow
	for rows.Next() {
		var item LineItemRow
		var storeType string

		err := rows.Scan(
			&item.StoreID,
			&storeType,
			&item.OrderID,
			&item.SKU,
			&item.Name,
			&item.Quantity,
			&item.UnitPrice,
			&item.PlacedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}

		item.StoreType = types.StoreType(storeType)
		items = append(items, &item)
	}

	return items, rows.Err()
}
