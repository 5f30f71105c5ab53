package profit

import (
	"testing"

	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
	"dukapos/internal/ledger"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func saleItem(productID string, qty int, unitPrice string) domain.SaleItem {
	price := dec(unitPrice)
	return domain.SaleItem{
		ProductID: productID,
		Quantity:  qty,
		UnitPrice: price,
		Subtotal:  price.Mul(decimal.NewFromInt(int64(qty))),
	}
}

func TestOfUsesQueryTimeCostBasis(t *testing.T) {
	snap := ledger.Build(nil, []domain.StockPurchase{
		{ProductID: "p1", Quantity: 10, UnitCost: dec("6")},
	}, nil)

	item := saleItem("p1", 5, "10")

	// 5*10 - 5*6 = 20
	want := dec("20")
	if got := Of(item, snap); !got.Equal(want) {
		t.Fatalf("expected profit %s, got %s", want, got)
	}
}

func TestOfWithZeroCostBasisIsPureMargin(t *testing.T) {
	snap := ledger.Build(nil, nil, nil)
	item := saleItem("p1", 3, "15")

	if got := Of(item, snap); !got.Equal(dec("45")) {
		t.Fatalf("expected full subtotal as profit, got %s", got)
	}
}

func TestTotalAndRevenue(t *testing.T) {
	snap := ledger.Build(nil, []domain.StockPurchase{
		{ProductID: "p1", Quantity: 10, UnitCost: dec("4")},
		{ProductID: "p2", Quantity: 10, UnitCost: dec("1")},
	}, nil)

	items := []domain.SaleItem{
		saleItem("p1", 2, "10"), // profit 12
		saleItem("p2", 5, "3"),  // profit 10
	}

	if got := Revenue(items); !got.Equal(dec("35")) {
		t.Fatalf("expected revenue 35, got %s", got)
	}
	if got := Total(items, snap); !got.Equal(dec("22")) {
		t.Fatalf("expected total profit 22, got %s", got)
	}
}

func TestBestSellersOrdering(t *testing.T) {
	products := map[string]domain.Product{
		"p1": {ID: "p1", Name: "Bread"},
		"p2": {ID: "p2", Name: "Milk"},
		"p3": {ID: "p3", Name: "Sugar"},
	}
	items := []domain.SaleItem{
		saleItem("p1", 2, "65"),
		saleItem("p2", 5, "60"),
		saleItem("p3", 2, "175"),
		saleItem("p1", 1, "65"),
	}

	sellers := BestSellers(items, products)
	if len(sellers) != 3 {
		t.Fatalf("expected 3 sellers, got %d", len(sellers))
	}
	if sellers[0].Name != "Milk" || sellers[0].QtySold != 5 {
		t.Fatalf("expected Milk first with 5 units, got %+v", sellers[0])
	}
	// Bread and Sugar tie at 3 and 2; Bread was encountered first but
	// sold 3, so order is Bread then Sugar.
	if sellers[1].Name != "Bread" || sellers[1].QtySold != 3 {
		t.Fatalf("expected Bread second with 3 units, got %+v", sellers[1])
	}
	if sellers[2].Name != "Sugar" || sellers[2].QtySold != 2 {
		t.Fatalf("expected Sugar third with 2 units, got %+v", sellers[2])
	}
}

func TestBestSellersTieKeepsEncounterOrder(t *testing.T) {
	products := map[string]domain.Product{
		"p1": {ID: "p1", Name: "Tea"},
		"p2": {ID: "p2", Name: "Coffee"},
	}
	items := []domain.SaleItem{
		saleItem("p1", 3, "140"),
		saleItem("p2", 3, "250"),
	}

	sellers := BestSellers(items, products)
	if sellers[0].Name != "Tea" || sellers[1].Name != "Coffee" {
		t.Fatalf("tie should keep first-encountered order, got %+v", sellers)
	}
}

func TestBestSellersSkipsUnknownProducts(t *testing.T) {
	items := []domain.SaleItem{saleItem("ghost", 10, "1")}
	if got := BestSellers(items, map[string]domain.Product{}); len(got) != 0 {
		t.Fatalf("unknown products should be skipped, got %+v", got)
	}
}

func TestRowsAggregatesPerProduct(t *testing.T) {
	snap := ledger.Build(nil, []domain.StockPurchase{
		{ProductID: "p1", Quantity: 10, UnitCost: dec("4")},
	}, nil)
	products := map[string]domain.Product{
		"p1": {ID: "p1", Name: "Soap"},
	}
	items := []domain.SaleItem{
		saleItem("p1", 1, "10"),
		saleItem("p1", 2, "10"),
	}

	rows := Rows(items, products, snap)
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	row := rows[0]
	if row.Name != "Soap" || row.QtySold != 3 {
		t.Fatalf("unexpected row %+v", row)
	}
	if !row.Revenue.Equal(dec("30")) || !row.Profit.Equal(dec("18")) {
		t.Fatalf("expected revenue 30 profit 18, got %s / %s", row.Revenue, row.Profit)
	}
}
