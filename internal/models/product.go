package models

import "time"

// Product is a mirrored storefront product/stock row, keyed by
// (store id, remote id).
type Product struct {
	StoreID    string    `json:"storeId" db:"store_id"`
	RemoteID   int64     `json:"remoteId" db:"remote_id"`
	SKU        string    `json:"sku" db:"sku"`
	Name       string    `json:"name" db:"name"`
	Price      string    `json:"price" db:"price"`
	Stock      int       `json:"stock" db:"stock"`
	ModifiedAt time.Time `json:"modifiedAt" db:"modified_at"`
	MirroredAt time.Time `json:"mirroredAt" db:"mirrored_at"`
}
