package lootbox

import (
	"fmt"

	"github.com/tolelom/stakebox/core"
)

// Select maps a random value onto the loot table. The value is reduced
// modulo the total weight and the first entry whose cumulative weight
// exceeds it wins. Select is pure: equal inputs always pick the same entry.
func Select(table []core.LootEntry, value uint64) (core.LootEntry, int, error) {
	var total uint64
	for _, e := range table {
		total += e.Weight
	}
	if total == 0 {
		return core.LootEntry{}, -1, ErrEmptyLootTable
	}
	reduced := value % total
	var cumulative uint64
	for i, e := range table {
		cumulative += e.Weight
		if reduced < cumulative {
			return e, i, nil
		}
	}
	// Unreachable while reduced < total.
	return core.LootEntry{}, -1, fmt.Errorf("lootbox: selection fell through for value %d", value)
}

// ValidCost reports whether cost is base doubled k times for some k >= 0.
// A zero base accepts any positive cost.
func ValidCost(base, cost uint64) bool {
	if cost == 0 {
		return false
	}
	if base == 0 {
		return true
	}
	for c := base; ; c <<= 1 {
		if c == cost {
			return true
		}
		if c > cost || c > c<<1 {
			return false
		}
	}
}
