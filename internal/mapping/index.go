// Package mapping builds the per-run SKU mapping index and normalizes raw
// line-item quantities into true unit counts.
package mapping

import "github.com/storemirror/internal/models"

// Entry is one direction of a mapping row: the SKU or canonical id on the
// far side, plus the quantity multiplier carried by the row.
type Entry struct {
	Key        string
	Multiplier int
}

// Index holds both directions of the SKU mapping table. A local SKU may
// resolve to several canonical ids and a canonical id may span several
// local SKUs, so both maps hold slices.
type Index struct {
	canonicalToLocal map[string][]Entry
	localToCanonical map[string][]Entry
}

// BuildIndex constructs the bidirectional index from mapping rows. It is
// built once per aggregation run and treated as read-only afterwards.
func BuildIndex(rows []models.SkuMapping) *Index {
	idx := &Index{
		canonicalToLocal: make(map[string][]Entry, len(rows)),
		localToCanonical: make(map[string][]Entry, len(rows)),
	}
	for _, row := range rows {
		idx.canonicalToLocal[row.CanonicalID] = append(idx.canonicalToLocal[row.CanonicalID], Entry{
			Key:        row.LocalSKU,
			Multiplier: row.Multiplier,
		})
		idx.localToCanonical[row.LocalSKU] = append(idx.localToCanonical[row.LocalSKU], Entry{
			Key:        row.CanonicalID,
			Multiplier: row.Multiplier,
		})
	}
	return idx
}

// LocalsFor returns every (local SKU, multiplier) pair mapped to the
// canonical id.
func (idx *Index) LocalsFor(canonicalID string) []Entry {
	return idx.canonicalToLocal[canonicalID]
}

// CanonicalsFor returns every (canonical id, multiplier) pair the local SKU
// maps to.
func (idx *Index) CanonicalsFor(localSKU string) []Entry {
	return idx.localToCanonical[localSKU]
}

// MultiplierSum sums the multipliers of all canonical mappings for a local
// SKU. The second return is false when the SKU is unmapped.
func (idx *Index) MultiplierSum(localSKU string) (int, bool) {
	entries, ok := idx.localToCanonical[localSKU]
	if !ok {
		return 0, false
	}
	sum := 0
	for _, e := range entries {
		sum += e.Multiplier
	}
	return sum, true
}

// Size returns the number of distinct local SKUs in the index.
func (idx *Index) Size() int {
	return len(idx.localToCanonical)
}
