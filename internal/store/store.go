package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dukapos/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("invalid input")
	ErrEmptyCart          = errors.New("empty cart")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvariantViolation = errors.New("sale invariant violation")
)

// InsufficientStockError identifies the offending product when a
// commit-time stock recheck fails. It matches ErrInsufficientStock
// under errors.Is so callers can branch without unpacking the type.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Repository is the storage contract shared by the in-memory, SQLite
// and Postgres backends. stock_purchases and sale_items are append-only
// logs: no implementation may expose updates or deletes on them.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	CreateStockPurchase(ctx context.Context, purchase domain.StockPurchase) (*domain.StockPurchase, error)
	ListStockPurchases(ctx context.Context, productID string) ([]domain.StockPurchase, error)

	// CreateSale persists a sale and its items as one all-or-nothing
	// unit. It rechecks live stock for every line inside the same
	// transaction/lock scope as the writes and recomputes subtotals and
	// the sale total from the lines; a caller-supplied total is never
	// trusted. A failed commit leaves no partial state behind.
	CreateSale(ctx context.Context, sale domain.Sale, items []domain.SaleItem) (*domain.Sale, error)
	GetSale(ctx context.Context, saleID string) (*domain.Sale, []domain.SaleItem, error)
	// ListSaleItems returns items filtered by sale creation time.
	// Zero-valued bounds are open.
	ListSaleItems(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleItem, error)

	GetSettings(ctx context.Context) (domain.Settings, error)
	UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
