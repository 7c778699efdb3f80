package storage

import (
	"context"
	"fmt"

	"github.com/storemirror/internal/models"
)

// ProductRepository handles mirrored product persistence
type ProductRepository struct {
	db *PostgresDB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *PostgresDB) *ProductRepository {
	return &ProductRepository{db: db}
}

// UpsertPage writes one page of pulled products in a single transaction,
// keyed by (store_id, remote_id).
func (r *ProductRepository) UpsertPage(ctx context.Context, products []*models.Product) error {
	if len(products) == 0 {
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
		INSERT INTO products (
			store_id, remote_id, sku, name, price, stock, modified_at, mirrored_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (store_id, remote_id)
		DO UPDATE SET
			sku = EXCLUDED.sku,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			modified_at = EXCLUDED.modified_at,
			mirrored_at = NOW()
	`

	for _, product := range products {
		_, err = tx.Exec(ctx, query,
			product.StoreID,
			product.RemoteID,
			product.SKU,
			product.Name,
			product.Price,
			product.Stock,
			product.ModifiedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert product %d: %w", product.RemoteID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit product page: %w", err)
	}

	return nil
}

// ListByStore retrieves all mirrored products for a store.
func (r *ProductRepository) ListByStore(ctx context.Context, storeID string) ([]*models.Product, error) {
	query := `
		SELECT store_id, remote_id, sku, name, price, stock, modified_at, mirrored_at
		FROM products
		WHERE store_id = $1
		ORDER BY remote_id ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		var product models.Product
		err := rows.Scan(
			&product.StoreID,
			&product.RemoteID,
			&product.SKU,
			&product.Name,
			&product.Price,
			&product.Stock,
			&product.ModifiedAt,
			&product.MirroredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, &product)
	}

	return products, rows.Err()
}

// StockBySku aggregates current stock across stores, keyed by local SKU.
func (r *ProductRepository) StockBySku(ctx context.Context) (map[string]int, error) {
	query := `SELECT sku, SUM(stock) FROM products GROUP BY sku`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stock: %w", err)
	}
	defer rows.Close()

	stock := make(map[string]int)
	for rows.Next() {
		var sku string
		var qty int
		if err := rows.Scan(&sku, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan stock row: %w", err)
		}
		stock[sku] = qty
	}

	return stock, rows.Err()
}
