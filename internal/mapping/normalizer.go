package mapping

import (
	"strings"

	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/types"
)

// FamilyRule gives a named product family its own unit factor, checked
// before the general wholesale rule and short-circuiting it. Match is a
// case-insensitive substring test against the line item name.
type FamilyRule struct {
	Name      string
	Match     string
	StoreType types.StoreType
	Factor    int
}

// DefaultFamilyRules covers the product families with fixed per-package
// counts that the wholesale factor does not describe.
func DefaultFamilyRules() []FamilyRule {
	return []FamilyRule{
		{Name: "surprise-box", Match: "surprise box", StoreType: types.StoreRetail, Factor: 6},
	}
}

// Normalizer converts raw line-item quantities into true unit counts.
// When built without an index it skips the SKU multiplier step, store and
// family factors still applying, so report generation is never blocked by
// an unavailable mapping source.
type Normalizer struct {
	index    *Index
	families []FamilyRule
}

func NewNormalizer(index *Index, families []FamilyRule) *Normalizer {
	return &Normalizer{index: index, families: families}
}

// Degraded reports whether the mapping index was unavailable at build time.
func (n *Normalizer) Degraded() bool {
	return n.index == nil
}

// Normalize applies the unit rules to one line item:
//
//  1. A matching family rule multiplies by its own factor and suppresses
//     the wholesale rule.
//  2. Otherwise a wholesale store multiplies by its package factor.
//  3. A mapped local SKU then multiplies by the sum of its canonical
//     multipliers; an unmapped SKU passes through.
func (n *Normalizer) Normalize(store *models.Store, item models.OrderLineItem) int64 {
	qty := int64(item.Quantity)

	if factor, ok := n.familyFactor(store, item); ok {
		qty *= int64(factor)
	} else if store.IsWholesale() && store.PackageUnits > 0 {
		qty *= int64(store.PackageUnits)
	}

	if n.index != nil {
		if sum, ok := n.index.MultiplierSum(item.SKU); ok {
			qty *= int64(sum)
		}
	}

	return qty
}

func (n *Normalizer) familyFactor(store *models.Store, item models.OrderLineItem) (int, bool) {
	name := strings.ToLower(item.Name)
	for _, rule := range n.families {
		if rule.StoreType != "" && rule.StoreType != store.Type {
			continue
		}
		if strings.Contains(name, rule.Match) {
			return rule.Factor, true
		}
	}
	return 0, false
}
