package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is mutable reference data. CostPrice is the manual default
// entered by management; the accounting cost basis is always derived
// from the purchase log, never from this field.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	SellPrice decimal.Decimal `json:"sell_price"`
	CostPrice decimal.Decimal `json:"cost_price"`
}

type ProductCreateRequest struct {
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	SellPrice decimal.Decimal `json:"sell_price"`
	CostPrice decimal.Decimal `json:"cost_price"`
}

type ProductUpdateRequest struct {
	Name      *string          `json:"name,omitempty"`
	Category  *string          `json:"category,omitempty"`
	SellPrice *decimal.Decimal `json:"sell_price,omitempty"`
	CostPrice *decimal.Decimal `json:"cost_price,omitempty"`
}

// StockPurchase is an append-only stock-in event. It is never updated
// or deleted once recorded.
type StockPurchase struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	CreatedAt time.Time       `json:"created_at"`
}

type StockPurchaseRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// Sale is created once, atomically, together with its items and is
// immutable thereafter.
type Sale struct {
	ID        string          `json:"id"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

// SaleItem lines are always inserted as one batch belonging to exactly
// one Sale. Subtotal == Quantity * UnitPrice by construction.
type SaleItem struct {
	SaleID    string          `json:"sale_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// StockLevel is the per-product view the ledger derives from the two
// logs. It has no stored representation.
type StockLevel struct {
	Stock       int             `json:"stock"`
	AvgUnitCost decimal.Decimal `json:"avg_unit_cost"`
}

// InventoryRecord is the dashboard projection of a product's movement.
type InventoryRecord struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Purchased int    `json:"purchased"`
	Sold      int    `json:"sold"`
	Stock     int    `json:"stock"`
}

// LiveInventoryRow backs the cashier's product grid. AvailableStock
// must reflect the ledger's StockOf exactly.
type LiveInventoryRow struct {
	ProductID      string          `json:"product_id"`
	Name           string          `json:"name"`
	SellPrice      decimal.Decimal `json:"sell_price"`
	AvailableStock int             `json:"available_stock"`
}

type CartItemView struct {
	ProductID     string          `json:"product_id"`
	Name          string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Quantity      int             `json:"quantity"`
	LineTotal     decimal.Decimal `json:"line_total"`
	StockSnapshot int             `json:"stock_snapshot"`
}

type CartView struct {
	TerminalID string          `json:"terminal_id"`
	State      string          `json:"state"`
	Items      []CartItemView  `json:"items"`
	Total      decimal.Decimal `json:"total"`
}

type CartOpenRequest struct {
	TerminalID string `json:"terminal_id"`
}

type CartItemRequest struct {
	TerminalID string `json:"terminal_id"`
	ProductID  string `json:"product_id"`
}

type CommitSaleResponse struct {
	Sale  Sale       `json:"sale"`
	Items []SaleItem `json:"items"`
}

type ProfitRow struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	QtySold   int             `json:"qty_sold"`
	Revenue   decimal.Decimal `json:"revenue"`
	Profit    decimal.Decimal `json:"profit"`
}

type ProfitReport struct {
	From        *time.Time      `json:"from,omitempty"`
	To          *time.Time      `json:"to,omitempty"`
	Rows        []ProfitRow     `json:"rows"`
	Revenue     decimal.Decimal `json:"revenue"`
	TotalProfit decimal.Decimal `json:"total_profit"`
}

type BestSeller struct {
	Name    string `json:"name"`
	QtySold int    `json:"qty_sold"`
}

type DashboardReport struct {
	TotalProducts int               `json:"total_products"`
	TotalUnits    int               `json:"total_units"`
	LowStockCount int               `json:"low_stock_count"`
	Revenue       decimal.Decimal   `json:"revenue"`
	Profit        decimal.Decimal   `json:"profit"`
	Inventory     []InventoryRecord `json:"inventory"`
	BestSellers   []BestSeller      `json:"best_sellers"`
}

// Settings is read-only input to receipt rendering; the engine never
// derives anything from it.
type Settings struct {
	StoreName     string `json:"store_name"`
	ReceiptFooter string `json:"receipt_footer"`
}

type ReceiptLine struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Receipt struct {
	SaleID    string          `json:"sale_id"`
	StoreName string          `json:"store_name"`
	Footer    string          `json:"footer"`
	CreatedAt time.Time       `json:"created_at"`
	Lines     []ReceiptLine   `json:"lines"`
	Total     decimal.Decimal `json:"total"`
	Text      string          `json:"text"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const (
	CartStateBuilding   = "building"
	CartStateCommitting = "committing"
	CartStateCommitted  = "committed"
	CartStateCancelled  = "cancelled"
)

// LowStockThreshold marks a product as low stock on the dashboard.
const LowStockThreshold = 5
