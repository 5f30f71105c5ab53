package cart

import (
	"testing"

	"github.com/shopspring/decimal"
)

func catalogItem(id string, price string, stock int) CatalogItem {
	return CatalogItem{
		ProductID: id,
		Name:      "Product " + id,
		UnitPrice: decimal.RequireFromString(price),
		Stock:     stock,
	}
}

func TestAddItemStopsAtSnapshotCeiling(t *testing.T) {
	c := New()
	item := catalogItem("p1", "50", 2)

	if !c.AddItem(item) {
		t.Fatalf("first add should change the cart")
	}
	if !c.AddItem(item) {
		t.Fatalf("second add should change the cart")
	}
	if c.AddItem(item) {
		t.Fatalf("add beyond the snapshot ceiling should be a no-op")
	}

	lines := c.Lines()
	if len(lines) != 1 || lines[0].Quantity != 2 {
		t.Fatalf("expected one line with qty 2, got %+v", lines)
	}
}

func TestAddItemRefusesOutOfStockProduct(t *testing.T) {
	c := New()
	if c.AddItem(catalogItem("p1", "50", 0)) {
		t.Fatalf("adding a product with zero snapshot stock should be refused")
	}
	if !c.IsEmpty() {
		t.Fatalf("cart should remain empty")
	}
}

func TestRemoveItemDecrementsAndDropsLine(t *testing.T) {
	c := New()
	item := catalogItem("p1", "50", 5)
	c.AddItem(item)
	c.AddItem(item)

	if !c.RemoveItem("p1") {
		t.Fatalf("remove should succeed")
	}
	if got := c.Lines()[0].Quantity; got != 1 {
		t.Fatalf("expected qty 1 after remove, got %d", got)
	}

	c.RemoveItem("p1")
	if !c.IsEmpty() {
		t.Fatalf("line should be dropped at quantity zero")
	}

	if c.RemoveItem("p1") {
		t.Fatalf("removing an absent product should be a no-op")
	}
}

func TestTotalSumsLines(t *testing.T) {
	c := New()
	a := catalogItem("p1", "50", 10)
	b := catalogItem("p2", "25.50", 10)
	c.AddItem(a)
	c.AddItem(a)
	c.AddItem(b)

	want := decimal.RequireFromString("125.50")
	if !c.Total().Equal(want) {
		t.Fatalf("expected total %s, got %s", want, c.Total())
	}
}

func TestCommitStateMachine(t *testing.T) {
	c := New()

	if err := c.BeginCommit(); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty on empty cart, got %v", err)
	}

	c.AddItem(catalogItem("p1", "50", 5))
	if err := c.BeginCommit(); err != nil {
		t.Fatalf("begin commit failed: %v", err)
	}
	if c.State() != StateCommitting {
		t.Fatalf("expected committing state, got %v", c.State())
	}

	if err := c.BeginCommit(); err != ErrNotBuilding {
		t.Fatalf("expected ErrNotBuilding while committing, got %v", err)
	}
	if c.AddItem(catalogItem("p2", "10", 5)) {
		t.Fatalf("cart must not accept items while committing")
	}

	c.FinishCommit(false)
	if c.State() != StateBuilding {
		t.Fatalf("failed commit should return to building, got %v", c.State())
	}
	if len(c.Lines()) != 1 {
		t.Fatalf("failed commit must leave lines untouched")
	}

	if err := c.BeginCommit(); err != nil {
		t.Fatalf("retry begin commit failed: %v", err)
	}
	c.FinishCommit(true)
	if c.State() != StateCommitted {
		t.Fatalf("expected committed state, got %v", c.State())
	}
}

func TestCancelIsTerminal(t *testing.T) {
	c := New()
	c.AddItem(catalogItem("p1", "50", 5))
	c.Cancel()

	if c.State() != StateCancelled {
		t.Fatalf("expected cancelled state, got %v", c.State())
	}
	if c.AddItem(catalogItem("p1", "50", 5)) {
		t.Fatalf("cancelled cart must not accept items")
	}
	if err := c.BeginCommit(); err != ErrNotBuilding {
		t.Fatalf("cancelled cart must not accept a commit, got %v", err)
	}
}

func TestClearResetsToBuilding(t *testing.T) {
	c := New()
	c.AddItem(catalogItem("p1", "50", 5))
	c.Cancel()

	c.Clear()
	if c.State() != StateBuilding || !c.IsEmpty() {
		t.Fatalf("expected fresh building cart, got state %v with %d lines", c.State(), len(c.Lines()))
	}
	if !c.AddItem(catalogItem("p1", "50", 5)) {
		t.Fatalf("cleared cart should accept items again")
	}
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		StateBuilding:   "building",
		StateCommitting: "committing",
		StateCommitted:  "committed",
		StateCancelled:  "cancelled",
	}
	for state, want := range cases {
		if state.String() != want {
			t.Fatalf("state %d: expected %q, got %q", state, want, state.String())
		}
	}
}
