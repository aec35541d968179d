package exercise

import (
	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/rng"
)

// Selection is the chosen pool item and whether a pin decided it
type Selection struct {
	Item   domain.PoolItem
	Forced bool
}

// SelectKey picks one item from pool. A pinned key wins when it is a pool
// member, then the force hint; keys outside the pool are ignored so a caller
// cannot force an item the filters removed. Otherwise a weighted draw decides.
//
// pool must be non-empty.
func SelectKey(g *rng.RNG, pool []domain.PoolItem, pinned, hint string) Selection {
	if len(pool) == 0 {
		panic("exercise: SelectKey called with an empty pool")
	}

	for _, forced := range []string{pinned, hint} {
		if forced == "" {
			continue
		}
		for _, item := range pool {
			if item.Key == forced {
				return Selection{Item: item, Forced: true}
			}
		}
	}

	choices := make([]rng.Choice[domain.PoolItem], len(pool))
	for i, item := range pool {
		choices[i] = rng.Choice[domain.PoolItem]{Value: item, W: item.Weight}
	}

	item, err := rng.Weighted(g, choices)
	if err != nil {
		// Pool items are validated to carry positive weights.
		panic("exercise: " + err.Error())
	}
	return Selection{Item: item}
}
