// Package memory is the development and test backend. All state lives
// behind one RWMutex, which also gives CreateSale the read-then-write
// atomicity the commit path requires.
package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"dukapos/internal/domain"
	"dukapos/internal/store"
	"dukapos/internal/xid"
)

type Store struct {
	mu           sync.RWMutex
	products     map[string]domain.Product
	productOrder []string
	purchases    []domain.StockPurchase
	salesByID    map[string]domain.Sale
	saleItems    []domain.SaleItem
	settings     domain.Settings
	users        map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:  make(map[string]domain.Product),
		salesByID: make(map[string]domain.Sale),
		settings: domain.Settings{
			StoreName:     "Duka POS",
			ReceiptFooter: "Thank you, karibu tena!",
		},
		users: seedUsers(),
	}
}

// NewSeeded returns a store preloaded with a small catalog and opening
// stock so the cashier screen works out of the box in dev/demo mode.
func NewSeeded() *Store {
	s := New()

	seed := []struct {
		name     string
		category string
		price    string
		cost     string
		qty      int
	}{
		{"Maize Flour 2kg", "grocery", "189", "152", 40},
		{"Rice 1kg", "grocery", "160", "128", 35},
		{"Sugar 1kg", "grocery", "175", "149", 30},
		{"Cooking Oil 1L", "grocery", "320", "268", 25},
		{"Milk 500ml", "dairy", "60", "47", 60},
		{"Bread 400g", "bakery", "65", "50", 20},
		{"Eggs Tray", "dairy", "420", "355", 15},
		{"Tea Leaves 250g", "beverage", "140", "104", 25},
		{"Drinking Water 1L", "beverage", "50", "32", 80},
		{"Bar Soap", "household", "95", "71", 45},
		{"Washing Powder 500g", "household", "185", "146", 30},
		{"Matches Box", "household", "10", "6", 100},
	}

	now := time.Now().UTC()
	for i, row := range seed {
		product := domain.Product{
			ID:        xid.New("prod"),
			Name:      row.name,
			Category:  row.category,
			SellPrice: decimal.RequireFromString(row.price),
			CostPrice: decimal.RequireFromString(row.cost),
		}
		s.products[product.ID] = product
		s.productOrder = append(s.productOrder, product.ID)
		s.purchases = append(s.purchases, domain.StockPurchase{
			ID:        xid.New("sp"),
			ProductID: product.ID,
			Quantity:  row.qty,
			UnitCost:  product.CostPrice,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}

	return s
}

func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, id := range s.productOrder {
		products = append(products, s.products[id])
	}
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].Name < products[j].Name
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Category) == "" {
		return nil, store.ErrValidation
	}
	if product.SellPrice.IsNegative() || product.CostPrice.IsNegative() {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrValidation
	}
	s.products[product.ID] = product
	s.productOrder = append(s.productOrder, product.ID)

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Category) == "" {
		return nil, store.ErrValidation
	}
	if product.SellPrice.IsNegative() || product.CostPrice.IsNegative() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[product.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.products[product.ID] = product

	updated := product
	return &updated, nil
}

func (s *Store) CreateStockPurchase(_ context.Context, purchase domain.StockPurchase) (*domain.StockPurchase, error) {
	if purchase.Quantity < 1 || purchase.UnitCost.IsNegative() {
		return nil, store.ErrValidation
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("sp")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[purchase.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	s.purchases = append(s.purchases, purchase)

	created := purchase
	return &created, nil
}

func (s *Store) ListStockPurchases(_ context.Context, productID string) ([]domain.StockPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]domain.StockPurchase, 0, len(s.purchases))
	for _, purchase := range s.purchases {
		if productID != "" && purchase.ProductID != productID {
			continue
		}
		purchases = append(purchases, purchase)
	}
	return purchases, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale, items []domain.SaleItem) (*domain.Sale, error) {
	if len(items) == 0 {
		return nil, store.ErrEmptyCart
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Live stock recheck against the logs, inside the same lock scope
	// as the appends. The cart's snapshot is not consulted here.
	requested := make(map[string]int, len(items))
	for _, item := range items {
		if item.Quantity < 1 || item.UnitPrice.IsNegative() {
			return nil, store.ErrValidation
		}
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, store.ErrNotFound
		}
		requested[item.ProductID] += item.Quantity
	}
	for productID, qty := range requested {
		available := s.stockOfLocked(productID)
		if available < qty {
			return nil, &store.InsufficientStockError{
				ProductID: productID,
				Requested: qty,
				Available: available,
			}
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	// Total is recomputed from the lines; whatever the caller put in
	// sale.Total is discarded.
	total := decimal.Zero
	recomputed := make([]domain.SaleItem, 0, len(items))
	for _, item := range items {
		item.SaleID = sale.ID
		item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(item.Subtotal)
		recomputed = append(recomputed, item)
	}
	sale.Total = total

	s.salesByID[sale.ID] = sale
	s.saleItems = append(s.saleItems, recomputed...)

	created := sale
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.Sale, []domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}

	items := make([]domain.SaleItem, 0, 4)
	for _, item := range s.saleItems {
		if item.SaleID == saleID {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		// CreateSale writes the sale and its items under one lock, so a
		// sale without items should be unreachable.
		return nil, nil, store.ErrInvariantViolation
	}
	return &sale, items, nil
}

func (s *Store) ListSaleItems(_ context.Context, from time.Time, to time.Time) ([]domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.SaleItem, 0, len(s.saleItems))
	for _, item := range s.saleItems {
		createdAt := s.salesByID[item.SaleID].CreatedAt
		if !from.IsZero() && createdAt.Before(from) {
			continue
		}
		if !to.IsZero() && createdAt.After(to) {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Store) GetSettings(_ context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) UpdateSettings(_ context.Context, settings domain.Settings) (domain.Settings, error) {
	if strings.TrimSpace(settings.StoreName) == "" {
		return domain.Settings{}, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return s.settings, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrValidation
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

// stockOfLocked derives purchased minus sold for one product. Callers
// must hold at least the read lock.
func (s *Store) stockOfLocked(productID string) int {
	stock := 0
	for _, purchase := range s.purchases {
		if purchase.ProductID == productID {
			stock += purchase.Quantity
		}
	}
	for _, item := range s.saleItems {
		if item.ProductID == productID {
			stock -= item.Quantity
		}
	}
	return stock
}
