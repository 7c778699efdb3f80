package storage

import (
	"context"
	"fmt"

	"github.com/storemirror/internal/models"
)

// SkuMappingRepository reads the SKU mapping source. The mapping table is
// maintained by the admin surface; the aggregation core bulk-loads it once
// per run.
type SkuMappingRepository struct {
	db *PostgresDB
}

// NewSkuMappingRepository creates a new SKU mapping repository
func NewSkuMappingRepository(db *PostgresDB) *SkuMappingRepository {
	return &SkuMappingRepository{db: db}
}

// ListAll returns every mapping row.
func (r *SkuMappingRepository) ListAll(ctx context.Context) ([]*models.SkuMapping, error) {
	query := `SELECT canonical_id, local_sku, multiplier FROM sku_mappings`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sku mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.SkuMapping
	for rows.Next() {
		var m models.SkuMapping
		if err := rows.Scan(&m.CanonicalID, &m.LocalSKU, &m.Multiplier); err != nil {
			return nil, fmt.Errorf("failed to scan sku mapping: %w", err)
		}
		mappings = append(mappings, &m)
	}

	return mappings, rows.Err()
}
