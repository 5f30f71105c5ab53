// Package cart implements the session-scoped order builder. A cart is
// owned by exactly one cashier session and is never shared, so it does
// no locking of its own. Its stock ceiling comes from the inventory
// snapshot taken when the catalog was loaded and is advisory only; the
// authoritative check happens at commit time in the storage layer.
package cart

import (
	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
)

// CatalogItem is what the cashier sees in the product grid: reference
// data plus the stock level from the load-time snapshot.
type CatalogItem struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Stock     int
}

// Line is one cart entry. StockSnapshot is the stock level observed
// when the item was first added; Quantity never exceeds it.
type Line struct {
	ProductID     string
	Name          string
	UnitPrice     decimal.Decimal
	Quantity      int
	StockSnapshot int
}

type State int

const (
	StateBuilding State = iota
	StateCommitting
	StateCommitted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return domain.CartStateBuilding
	case StateCommitting:
		return domain.CartStateCommitting
	case StateCommitted:
		return domain.CartStateCommitted
	case StateCancelled:
		return domain.CartStateCancelled
	}
	return "unknown"
}

type Cart struct {
	state State
	lines []Line
}

func New() *Cart {
	return &Cart{state: StateBuilding}
}

func (c *Cart) State() State { return c.state }

// Lines returns a copy of the current lines in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) IsEmpty() bool { return len(c.lines) == 0 }

// AddItem adds one unit of the catalog item. When the item is already
// in the cart the quantity is incremented only while it is below the
// stock snapshot; at the ceiling the increment is silently dropped.
// A new line is refused when the snapshot shows no stock. Returns
// whether the cart changed.
func (c *Cart) AddItem(item CatalogItem) bool {
	if c.state != StateBuilding {
		return false
	}

	for i := range c.lines {
		if c.lines[i].ProductID != item.ProductID {
			continue
		}
		if c.lines[i].Quantity >= c.lines[i].StockSnapshot {
			return false
		}
		c.lines[i].Quantity++
		return true
	}

	if item.Stock <= 0 {
		return false
	}
	c.lines = append(c.lines, Line{
		ProductID:     item.ProductID,
		Name:          item.Name,
		UnitPrice:     item.UnitPrice,
		Quantity:      1,
		StockSnapshot: item.Stock,
	})
	return true
}

// RemoveItem removes one unit of the product, dropping the line when
// its quantity reaches zero. Unknown products are a no-op.
func (c *Cart) RemoveItem(productID string) bool {
	if c.state != StateBuilding {
		return false
	}

	for i := range c.lines {
		if c.lines[i].ProductID != productID {
			continue
		}
		c.lines[i].Quantity--
		if c.lines[i].Quantity <= 0 {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
		}
		return true
	}
	return false
}

// Total is Σ quantity·unitPrice over the current lines. Pure.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range c.lines {
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// Clear discards all lines and returns the cart to a fresh Building
// state. Used after a successful commit or an explicit cancel.
func (c *Cart) Clear() {
	c.state = StateBuilding
	c.lines = nil
}

// BeginCommit transitions Building → Committing. It fails on an empty
// cart or when a commit is already in flight.
func (c *Cart) BeginCommit() error {
	if c.state != StateBuilding {
		return ErrNotBuilding
	}
	if len(c.lines) == 0 {
		return ErrEmpty
	}
	c.state = StateCommitting
	return nil
}

// FinishCommit records the outcome of the commit attempt. On success
// the cart reaches the terminal Committed state; on failure it returns
// to Building with its lines untouched so the cashier can retry or
// cancel.
func (c *Cart) FinishCommit(ok bool) {
	if c.state != StateCommitting {
		return
	}
	if ok {
		c.state = StateCommitted
		return
	}
	c.state = StateBuilding
}

// Cancel moves the cart to the terminal Cancelled state.
func (c *Cart) Cancel() {
	if c.state == StateBuilding || c.state == StateCommitting {
		c.state = StateCancelled
	}
}

type cartError string

func (e cartError) Error() string { return string(e) }

const (
	ErrEmpty       = cartError("cart is empty")
	ErrNotBuilding = cartError("cart is not accepting a commit")
)
