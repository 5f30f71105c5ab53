// Package ledger derives per-product stock and cost basis from the two
// append-only logs (stock purchases and sale items). It is a pure
// read-side projection: it holds no state of its own and exposes no
// write operations, so any number of readers may rebuild it without
// coordination.
package ledger

import (
	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
)

// Snapshot is a point-in-time projection of the logs. Rebuilding it
// from the same inputs always yields the same result regardless of
// event ordering.
type Snapshot struct {
	levels map[string]domain.StockLevel
}

// Build computes the projection. Products with no purchases and no
// sales are present with stock 0. A product with zero purchase history
// has an average unit cost of 0 by policy, which makes any sale of it
// register as pure profit downstream.
func Build(products []domain.Product, purchases []domain.StockPurchase, items []domain.SaleItem) Snapshot {
	type accum struct {
		purchased int
		sold      int
		totalCost decimal.Decimal
	}

	acc := make(map[string]*accum, len(products))
	get := func(productID string) *accum {
		a, ok := acc[productID]
		if !ok {
			a = &accum{}
			acc[productID] = a
		}
		return a
	}

	for _, p := range products {
		get(p.ID)
	}
	for _, purchase := range purchases {
		a := get(purchase.ProductID)
		a.purchased += purchase.Quantity
		a.totalCost = a.totalCost.Add(purchase.UnitCost.Mul(decimal.NewFromInt(int64(purchase.Quantity))))
	}
	for _, item := range items {
		get(item.ProductID).sold += item.Quantity
	}

	levels := make(map[string]domain.StockLevel, len(acc))
	for productID, a := range acc {
		avg := decimal.Zero
		if a.purchased > 0 {
			avg = a.totalCost.Div(decimal.NewFromInt(int64(a.purchased)))
		}
		levels[productID] = domain.StockLevel{
			Stock:       a.purchased - a.sold,
			AvgUnitCost: avg,
		}
	}

	return Snapshot{levels: levels}
}

// FromLevels restores a snapshot from a previously exported level map,
// e.g. one fetched from the cache.
func FromLevels(levels map[string]domain.StockLevel) Snapshot {
	if levels == nil {
		levels = map[string]domain.StockLevel{}
	}
	return Snapshot{levels: levels}
}

// StockOf returns purchased minus sold quantity for the product.
// Unknown products yield 0.
func (s Snapshot) StockOf(productID string) int {
	return s.levels[productID].Stock
}

// CostBasisOf returns the weighted average unit cost over the entire
// purchase history, or 0 when the product was never purchased.
func (s Snapshot) CostBasisOf(productID string) decimal.Decimal {
	level, ok := s.levels[productID]
	if !ok {
		return decimal.Zero
	}
	return level.AvgUnitCost
}

// Levels exports the underlying map, keyed by product ID. The returned
// map is a copy; mutating it does not affect the snapshot.
func (s Snapshot) Levels() map[string]domain.StockLevel {
	out := make(map[string]domain.StockLevel, len(s.levels))
	for productID, level := range s.levels {
		out[productID] = level
	}
	return out
}
