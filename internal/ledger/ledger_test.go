package ledger

import (
	"testing"

	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuildDerivesStockFromBothLogs(t *testing.T) {
	products := []domain.Product{{ID: "p1"}, {ID: "p2"}}
	purchases := []domain.StockPurchase{
		{ProductID: "p1", Quantity: 10, UnitCost: dec("5")},
		{ProductID: "p1", Quantity: 5, UnitCost: dec("5")},
	}
	items := []domain.SaleItem{
		{ProductID: "p1", Quantity: 4},
	}

	snap := Build(products, purchases, items)

	if got := snap.StockOf("p1"); got != 11 {
		t.Fatalf("expected stock 11, got %d", got)
	}
	if got := snap.StockOf("p2"); got != 0 {
		t.Fatalf("product with no movement should have stock 0, got %d", got)
	}
	if got := snap.StockOf("missing"); got != 0 {
		t.Fatalf("unknown product should have stock 0, got %d", got)
	}
}

func TestWeightedAverageCostBasis(t *testing.T) {
	purchases := []domain.StockPurchase{
		{ProductID: "p1", Quantity: 10, UnitCost: dec("5")},
		{ProductID: "p1", Quantity: 10, UnitCost: dec("7")},
	}

	snap := Build(nil, purchases, nil)

	want := dec("6")
	if got := snap.CostBasisOf("p1"); !got.Equal(want) {
		t.Fatalf("expected cost basis %s, got %s", want, got)
	}
}

func TestCostBasisIgnoresSales(t *testing.T) {
	purchases := []domain.StockPurchase{
		{ProductID: "p1", Quantity: 10, UnitCost: dec("5")},
	}
	items := []domain.SaleItem{
		{ProductID: "p1", Quantity: 9},
	}

	snap := Build(nil, purchases, items)

	// Selling nearly all stock must not move the average: the basis is
	// over the whole purchase history, not the remaining units.
	if got := snap.CostBasisOf("p1"); !got.Equal(dec("5")) {
		t.Fatalf("expected cost basis 5, got %s", got)
	}
}

func TestZeroPurchaseHistoryHasZeroCostBasis(t *testing.T) {
	items := []domain.SaleItem{{ProductID: "p1", Quantity: 1}}

	snap := Build(nil, nil, items)

	if got := snap.CostBasisOf("p1"); !got.IsZero() {
		t.Fatalf("expected zero cost basis without purchases, got %s", got)
	}
	if got := snap.StockOf("p1"); got != -1 {
		t.Fatalf("expected stock -1 for oversold product, got %d", got)
	}
}

func TestBuildIsOrderIndependent(t *testing.T) {
	purchases := []domain.StockPurchase{
		{ProductID: "p1", Quantity: 3, UnitCost: dec("10")},
		{ProductID: "p1", Quantity: 7, UnitCost: dec("20")},
	}
	items := []domain.SaleItem{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p1", Quantity: 1},
	}

	forward := Build(nil, purchases, items)
	reversed := Build(nil,
		[]domain.StockPurchase{purchases[1], purchases[0]},
		[]domain.SaleItem{items[1], items[0]},
	)

	if forward.StockOf("p1") != reversed.StockOf("p1") {
		t.Fatalf("stock differs by event order: %d vs %d", forward.StockOf("p1"), reversed.StockOf("p1"))
	}
	if !forward.CostBasisOf("p1").Equal(reversed.CostBasisOf("p1")) {
		t.Fatalf("cost basis differs by event order: %s vs %s", forward.CostBasisOf("p1"), reversed.CostBasisOf("p1"))
	}
}

func TestLevelsRoundTrip(t *testing.T) {
	purchases := []domain.StockPurchase{
		{ProductID: "p1", Quantity: 4, UnitCost: dec("2.50")},
	}

	snap := Build(nil, purchases, nil)
	restored := FromLevels(snap.Levels())

	if restored.StockOf("p1") != snap.StockOf("p1") {
		t.Fatalf("restored stock mismatch")
	}
	if !restored.CostBasisOf("p1").Equal(snap.CostBasisOf("p1")) {
		t.Fatalf("restored cost basis mismatch")
	}

	// The export is a copy.
	levels := snap.Levels()
	levels["p1"] = domain.StockLevel{Stock: 999}
	if snap.StockOf("p1") == 999 {
		t.Fatalf("mutating the exported map must not affect the snapshot")
	}
}
