// Package profit computes per-item and aggregate profit from the sale
// item log using the ledger's weighted-average cost basis. Like the
// ledger it is a pure read-side projection.
//
// Profit is evaluated against the cost basis available at query time,
// not the basis at the time of the original sale. Figures therefore
// shift retroactively when new purchases are recorded. This mirrors the
// accounting model of the surrounding system and is a documented
// limitation, not something to silently fix here.
package profit

import (
	"sort"

	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
	"dukapos/internal/ledger"
)

// Of returns item.Subtotal − costBasis(product)·quantity.
func Of(item domain.SaleItem, snap ledger.Snapshot) decimal.Decimal {
	cost := snap.CostBasisOf(item.ProductID).Mul(decimal.NewFromInt(int64(item.Quantity)))
	return item.Subtotal.Sub(cost)
}

// Total sums Of over all items.
func Total(items []domain.SaleItem, snap ledger.Snapshot) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(Of(item, snap))
	}
	return total
}

// Revenue is Σ subtotal. It has no cost dependency.
func Revenue(items []domain.SaleItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal)
	}
	return total
}

// BestSellers groups sale items by product name and sums quantities,
// ordered by descending quantity. Ties keep first-encountered order.
// Items whose product is unknown are skipped.
func BestSellers(items []domain.SaleItem, products map[string]domain.Product) []domain.BestSeller {
	qtyByName := make(map[string]int)
	order := make([]string, 0)

	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			continue
		}
		if _, seen := qtyByName[product.Name]; !seen {
			order = append(order, product.Name)
		}
		qtyByName[product.Name] += item.Quantity
	}

	sellers := make([]domain.BestSeller, 0, len(order))
	for _, name := range order {
		sellers = append(sellers, domain.BestSeller{Name: name, QtySold: qtyByName[name]})
	}
	sort.SliceStable(sellers, func(i, j int) bool {
		return sellers[i].QtySold > sellers[j].QtySold
	})
	return sellers
}

// Rows produces the per-product profit summary: quantity sold, revenue
// and profit per product, in first-encountered order over the items.
func Rows(items []domain.SaleItem, products map[string]domain.Product, snap ledger.Snapshot) []domain.ProfitRow {
	index := make(map[string]int)
	rows := make([]domain.ProfitRow, 0)

	for _, item := range items {
		i, ok := index[item.ProductID]
		if !ok {
			name := item.ProductID
			if product, exists := products[item.ProductID]; exists {
				name = product.Name
			}
			index[item.ProductID] = len(rows)
			rows = append(rows, domain.ProfitRow{ProductID: item.ProductID, Name: name})
			i = len(rows) - 1
		}
		rows[i].QtySold += item.Quantity
		rows[i].Revenue = rows[i].Revenue.Add(item.Subtotal)
		rows[i].Profit = rows[i].Profit.Add(Of(item, snap))
	}

	return rows
}
