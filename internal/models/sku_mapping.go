package models

// SkuMapping links one storefront-local SKU to one canonical product id with
// an integer quantity multiplier. A local SKU may appear in several rows
// (one-to-many) and so may a canonical id.
type SkuMapping struct {
	CanonicalID string `json:"canonicalId" db:"canonical_id"`
	LocalSKU    string `json:"localSku" db:"local_sku"`
	Multiplier  int    `json:"multiplier" db:"multiplier"`
}
