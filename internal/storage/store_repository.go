package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/storemirror/internal/models"
)

// StoreRepository reads storefront registrations. Store rows are written by
// the admin surface; the sync core only reads them.
type StoreRepository struct {
	db *PostgresDB
}

// NewStoreRepository creates a new store repository
func NewStoreRepository(db *PostgresDB) *StoreRepository {
	return &StoreRepository{db: db}
}

const storeColumns = `id, name, base_url, api_key, webhook_secret, enabled, store_type, package_units, created_at`

func scanStore(row pgx.Row) (*models.Store, error) {
	var store models.Store
	err := row.Scan(
		&store.ID,
		&store.Name,
		&store.BaseURL,
		&store.APIKey,
		&store.WebhookSecret,
		&store.Enabled,
		&store.Type,
		&store.PackageUnits,
		&store.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &store, nil
}

// GetByID retrieves a store by id. Returns nil, nil for an unknown store;
// the service layer maps that to its not-found error.
func (r *StoreRepository) GetByID(ctx context.Context, id string) (*models.Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores WHERE id = $1`

	store, err := scanStore(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get store: %w", err)
	}

	return store, nil
}

// ListEnabled retrieves all enabled stores ordered by creation time.
// Stores created at the same instant sort by id so slot assignment
// stays deterministic.
func (r *StoreRepository) ListEnabled(ctx context.Context) ([]*models.Store, error) {
	query := `
		SELECT ` + storeColumns + `
		FROM stores
		WHERE enabled = true
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled stores: %w", err)
	}
	defer rows.Close()

	var stores []*models.Store
	for rows.Next() {
		store, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		stores = append(stores, store)
	}

	return stores, rows.Err()
}

// ListAll retrieves every registered store ordered by creation time.
func (r *StoreRepository) ListAll(ctx context.Context) ([]*models.Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	defer rows.Close()

	var stores []*models.Store
	for rows.Next() {
		store, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		stores = append(stores, store)
	}

	return stores, rows.Err()
}
