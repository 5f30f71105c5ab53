package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/internal/cache"
	"dukapos/internal/cart"
	"dukapos/internal/domain"
	"dukapos/internal/ledger"
	"dukapos/internal/profit"
	"dukapos/internal/receipt"
	"dukapos/internal/store"
	"dukapos/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// session is one cashier terminal's cart plus the catalog snapshot it
// was opened against. The catalog freezes the advisory stock ceiling;
// the committer rechecks live stock regardless.
type session struct {
	cart    *cart.Cart
	catalog map[string]cart.CatalogItem
}

type Service struct {
	repo        store.Repository
	snapCache   cache.SnapshotCache
	snapshotTTL time.Duration

	sessionMu sync.Mutex
	sessions  map[string]*session
}

func New(repo store.Repository, snapCache cache.SnapshotCache, snapshotTTL time.Duration) *Service {
	if snapCache == nil {
		snapCache = cache.NoopSnapshotCache{}
	}
	if snapshotTTL <= 0 {
		snapshotTTL = 30 * time.Second
	}

	return &Service{
		repo:        repo,
		snapCache:   snapCache,
		snapshotTTL: snapshotTTL,
		sessions:    make(map[string]*session),
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" {
		return domain.Product{}, fmt.Errorf("%w: name and category are required", store.ErrValidation)
	}
	if req.SellPrice.IsNegative() || req.CostPrice.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: prices must not be negative", store.ErrValidation)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:        xid.New("prod"),
		Name:      req.Name,
		Category:  req.Category,
		SellPrice: req.SellPrice,
		CostPrice: req.CostPrice,
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name must not be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, fmt.Errorf("%w: category must not be empty", store.ErrValidation)
		}
		updated.Category = category
	}
	if req.SellPrice != nil {
		if req.SellPrice.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: sell_price must not be negative", store.ErrValidation)
		}
		updated.SellPrice = *req.SellPrice
	}
	if req.CostPrice != nil {
		if req.CostPrice.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: cost_price must not be negative", store.ErrValidation)
		}
		updated.CostPrice = *req.CostPrice
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

// RecordStockPurchase appends a stock-in event. The purchase log is
// append-only; there is no update or delete counterpart.
func (s *Service) RecordStockPurchase(ctx context.Context, req domain.StockPurchaseRequest) (domain.StockPurchase, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.StockPurchase{}, err
	}

	if strings.TrimSpace(req.ProductID) == "" {
		return domain.StockPurchase{}, fmt.Errorf("%w: product_id is required", store.ErrValidation)
	}
	if req.Quantity < 1 {
		return domain.StockPurchase{}, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
	}
	if req.UnitCost.IsNegative() {
		return domain.StockPurchase{}, fmt.Errorf("%w: unit_cost must not be negative", store.ErrValidation)
	}

	created, err := s.repo.CreateStockPurchase(ctx, domain.StockPurchase{
		ID:        xid.New("sp"),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		UnitCost:  req.UnitCost,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.StockPurchase{}, err
	}

	s.invalidateSnapshot(ctx)
	return *created, nil
}

func (s *Service) ListStockPurchases(ctx context.Context, productID string) ([]domain.StockPurchase, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListStockPurchases(ctx, productID)
}

// LiveInventory is the cashier's product grid: every product with its
// sell price and the ledger's current stock figure.
func (s *Service) LiveInventory(ctx context.Context) ([]domain.LiveInventoryRow, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.LiveInventoryRow, 0, len(products))
	for _, product := range products {
		rows = append(rows, domain.LiveInventoryRow{
			ProductID:      product.ID,
			Name:           product.Name,
			SellPrice:      product.SellPrice,
			AvailableStock: snap.StockOf(product.ID),
		})
	}
	return rows, nil
}

// OpenCart starts a fresh building cart for the terminal, discarding
// any previous session, and freezes the catalog snapshot the cart's
// advisory stock ceiling is taken from.
func (s *Service) OpenCart(ctx context.Context, terminalID string) (domain.CartView, error) {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return domain.CartView{}, fmt.Errorf("%w: terminal_id is required", store.ErrValidation)
	}

	rows, err := s.LiveInventory(ctx)
	if err != nil {
		return domain.CartView{}, err
	}

	catalog := make(map[string]cart.CatalogItem, len(rows))
	for _, row := range rows {
		catalog[row.ProductID] = cart.CatalogItem{
			ProductID: row.ProductID,
			Name:      row.Name,
			UnitPrice: row.SellPrice,
			Stock:     row.AvailableStock,
		}
	}

	sess := &session{cart: cart.New(), catalog: catalog}
	s.sessionMu.Lock()
	s.sessions[terminalID] = sess
	s.sessionMu.Unlock()

	return cartView(terminalID, sess.cart), nil
}

func (s *Service) GetCart(_ context.Context, terminalID string) (domain.CartView, error) {
	sess, err := s.sessionFor(terminalID)
	if err != nil {
		return domain.CartView{}, err
	}
	return cartView(terminalID, sess.cart), nil
}

// AddCartItem adds one unit against the session's load-time snapshot.
// Hitting the snapshot ceiling is not an error: the cart stays as it
// was, matching the cashier screen's silent no-op.
func (s *Service) AddCartItem(_ context.Context, req domain.CartItemRequest) (domain.CartView, error) {
	sess, err := s.sessionFor(req.TerminalID)
	if err != nil {
		return domain.CartView{}, err
	}

	item, ok := sess.catalog[req.ProductID]
	if !ok {
		return domain.CartView{}, fmt.Errorf("%w: product %s", store.ErrNotFound, req.ProductID)
	}
	sess.cart.AddItem(item)
	return cartView(req.TerminalID, sess.cart), nil
}

func (s *Service) RemoveCartItem(_ context.Context, req domain.CartItemRequest) (domain.CartView, error) {
	sess, err := s.sessionFor(req.TerminalID)
	if err != nil {
		return domain.CartView{}, err
	}
	sess.cart.RemoveItem(req.ProductID)
	return cartView(req.TerminalID, sess.cart), nil
}

// CancelCart discards the terminal's cart. The next OpenCart starts a
// fresh building session.
func (s *Service) CancelCart(_ context.Context, terminalID string) error {
	sess, err := s.sessionFor(terminalID)
	if err != nil {
		return err
	}
	sess.cart.Cancel()

	s.sessionMu.Lock()
	delete(s.sessions, strings.TrimSpace(terminalID))
	s.sessionMu.Unlock()
	return nil
}

// CommitCart turns the terminal's cart into a durable sale. The storage
// layer rechecks live stock inside its transaction; a rejection or
// storage failure leaves the cart lines untouched so the cashier can
// retry or cancel. There is no retry here: a blind retry of a
// non-idempotent multi-row append could duplicate the sale.
func (s *Service) CommitCart(ctx context.Context, terminalID string) (domain.CommitSaleResponse, error) {
	sess, err := s.sessionFor(terminalID)
	if err != nil {
		return domain.CommitSaleResponse{}, err
	}

	if sess.cart.IsEmpty() {
		return domain.CommitSaleResponse{}, store.ErrEmptyCart
	}
	if err := sess.cart.BeginCommit(); err != nil {
		return domain.CommitSaleResponse{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	sale := domain.Sale{
		ID:        xid.New("sale"),
		CreatedAt: time.Now().UTC(),
	}
	lines := sess.cart.Lines()
	items := make([]domain.SaleItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.SaleItem{
			SaleID:    sale.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	created, err := s.repo.CreateSale(ctx, sale, items)
	if err != nil {
		sess.cart.FinishCommit(false)
		return domain.CommitSaleResponse{}, err
	}
	sess.cart.FinishCommit(true)

	s.sessionMu.Lock()
	delete(s.sessions, strings.TrimSpace(terminalID))
	s.sessionMu.Unlock()

	s.invalidateSnapshot(ctx)

	_, committedItems, err := s.repo.GetSale(ctx, created.ID)
	if err != nil {
		// The sale committed; failing the response now would invite a
		// duplicate. Log and return the sale without its lines.
		log.Printf("[service] WARN: failed to reload sale %s after commit: %v", created.ID, err)
		committedItems = nil
	}

	return domain.CommitSaleResponse{Sale: *created, Items: committedItems}, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.CommitSaleResponse, error) {
	sale, items, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.CommitSaleResponse{}, err
	}
	return domain.CommitSaleResponse{Sale: *sale, Items: items}, nil
}

// SaleReceipt renders the printable receipt for a committed sale. It is
// purely downstream of the commit path and performs no writes.
func (s *Service) SaleReceipt(ctx context.Context, saleID string) (domain.Receipt, error) {
	sale, items, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Receipt{}, err
	}
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.Receipt{}, err
	}
	products, err := s.productMap(ctx)
	if err != nil {
		return domain.Receipt{}, err
	}
	return receipt.Render(*sale, items, products, settings), nil
}

// ProfitReport aggregates sale items in the given range against the
// cost basis over the entire purchase history at query time. Zero
// bounds are open.
func (s *Service) ProfitReport(ctx context.Context, from time.Time, to time.Time) (domain.ProfitReport, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.ProfitReport{}, err
	}

	items, err := s.repo.ListSaleItems(ctx, from, to)
	if err != nil {
		return domain.ProfitReport{}, err
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return domain.ProfitReport{}, err
	}
	products, err := s.productMap(ctx)
	if err != nil {
		return domain.ProfitReport{}, err
	}

	report := domain.ProfitReport{
		Rows:        profit.Rows(items, products, snap),
		Revenue:     profit.Revenue(items),
		TotalProfit: profit.Total(items, snap),
	}
	if !from.IsZero() {
		report.From = &from
	}
	if !to.IsZero() {
		report.To = &to
	}
	return report, nil
}

func (s *Service) Dashboard(ctx context.Context) (domain.DashboardReport, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.DashboardReport{}, err
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.DashboardReport{}, err
	}
	purchases, err := s.repo.ListStockPurchases(ctx, "")
	if err != nil {
		return domain.DashboardReport{}, err
	}
	items, err := s.repo.ListSaleItems(ctx, time.Time{}, time.Time{})
	if err != nil {
		return domain.DashboardReport{}, err
	}

	snap := ledger.Build(products, purchases, items)
	productsByID := make(map[string]domain.Product, len(products))
	for _, product := range products {
		productsByID[product.ID] = product
	}

	purchasedBy := make(map[string]int, len(products))
	for _, purchase := range purchases {
		purchasedBy[purchase.ProductID] += purchase.Quantity
	}
	soldBy := make(map[string]int, len(products))
	for _, item := range items {
		soldBy[item.ProductID] += item.Quantity
	}

	report := domain.DashboardReport{
		TotalProducts: len(products),
		Revenue:       profit.Revenue(items),
		Profit:        profit.Total(items, snap),
		Inventory:     make([]domain.InventoryRecord, 0, len(products)),
		BestSellers:   profit.BestSellers(items, productsByID),
	}

	for _, product := range products {
		record := domain.InventoryRecord{
			ProductID: product.ID,
			Name:      product.Name,
			Purchased: purchasedBy[product.ID],
			Sold:      soldBy[product.ID],
			Stock:     snap.StockOf(product.ID),
		}
		report.Inventory = append(report.Inventory, record)
		report.TotalUnits += record.Stock
		if record.Stock <= domain.LowStockThreshold {
			report.LowStockCount++
		}
	}

	return report, nil
}

func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	return s.repo.GetSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Settings{}, err
	}
	settings.StoreName = strings.TrimSpace(settings.StoreName)
	if settings.StoreName == "" {
		return domain.Settings{}, fmt.Errorf("%w: store_name is required", store.ErrValidation)
	}
	return s.repo.UpdateSettings(ctx, settings)
}

// snapshot returns the ledger projection, via the cache when possible.
func (s *Service) snapshot(ctx context.Context) (ledger.Snapshot, error) {
	if levels, ok, err := s.snapCache.Get(ctx); err == nil && ok {
		return ledger.FromLevels(levels), nil
	} else if err != nil {
		log.Printf("[service] WARN: snapshot cache read failed: %v", err)
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	purchases, err := s.repo.ListStockPurchases(ctx, "")
	if err != nil {
		return ledger.Snapshot{}, err
	}
	items, err := s.repo.ListSaleItems(ctx, time.Time{}, time.Time{})
	if err != nil {
		return ledger.Snapshot{}, err
	}

	snap := ledger.Build(products, purchases, items)
	if err := s.snapCache.Set(ctx, snap.Levels(), s.snapshotTTL); err != nil {
		log.Printf("[service] WARN: snapshot cache write failed: %v", err)
	}
	return snap, nil
}

func (s *Service) invalidateSnapshot(ctx context.Context) {
	if err := s.snapCache.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: snapshot cache invalidate failed: %v", err)
	}
}

func (s *Service) productMap(ctx context.Context) (map[string]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}
	return byID, nil
}

func (s *Service) sessionFor(terminalID string) (*session, error) {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return nil, fmt.Errorf("%w: terminal_id is required", store.ErrValidation)
	}

	s.sessionMu.Lock()
	sess, ok := s.sessions[terminalID]
	s.sessionMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no open cart for terminal %s", store.ErrNotFound, terminalID)
	}
	return sess, nil
}

func requireRole(ctx context.Context, role string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != role {
		return errors.New(role + " role required")
	}
	return nil
}

func cartView(terminalID string, c *cart.Cart) domain.CartView {
	lines := c.Lines()
	view := domain.CartView{
		TerminalID: terminalID,
		State:      c.State().String(),
		Items:      make([]domain.CartItemView, 0, len(lines)),
		Total:      c.Total(),
	}
	for _, line := range lines {
		view.Items = append(view.Items, domain.CartItemView{
			ProductID:     line.ProductID,
			Name:          line.Name,
			UnitPrice:     line.UnitPrice,
			Quantity:      line.Quantity,
			LineTotal:     line.UnitPrice.Mul(decimalFromInt(line.Quantity)),
			StockSnapshot: line.StockSnapshot,
		})
	}
	return view
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}
