package models

import (
	"time"

	"github.com/storemirror/internal/types"
)

// Store represents one remote storefront being mirrored.
// Store rows are owned by the admin CRUD surface; the sync core only reads them.
type Store struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	BaseURL       string          `json:"baseUrl" db:"base_url"`
	APIKey        string          `json:"-" db:"api_key"`
	WebhookSecret string          `json:"-" db:"webhook_secret"`
	Enabled       bool            `json:"enabled" db:"enabled"`
	Type          types.StoreType `json:"type" db:"store_type"`
	// PackageUnits is the units-per-package factor applied to wholesale
	// line items during quantity normalization.
	PackageUnits int       `json:"packageUnits" db:"package_units"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// IsWholesale reports whether the general wholesale multiplier applies.
func (s *Store) IsWholesale() bool {
	return s.Type == types.StoreWholesale
}
