package models

import "time"

// OrderLineItem is one line of a mirrored order, in raw storefront units.
type OrderLineItem struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

// Order is a mirrored storefront order, keyed by (store id, remote id).
type Order struct {
	StoreID      string          `json:"storeId" db:"store_id"`
	RemoteID     int64           `json:"remoteId" db:"remote_id"`
	Number       string          `json:"number" db:"number"`
	Status       string          `json:"status" db:"status"`
	Total        string          `json:"total" db:"total"`
	Currency     string          `json:"currency" db:"currency"`
	Items        []OrderLineItem `json:"items" db:"items"`
	PlacedAt     time.Time       `json:"placedAt" db:"placed_at"`
	ModifiedAt   time.Time       `json:"modifiedAt" db:"modified_at"`
	MirroredAt   time.Time       `json:"mirroredAt" db:"mirrored_at"`
}
