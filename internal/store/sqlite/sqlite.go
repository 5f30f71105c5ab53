// Package sqlite is the embedded single-file backend for deployments
// without an external database. The pool is capped at one connection,
// so a CreateSale transaction holds the only writer and the stock
// recheck cannot race another commit.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"dukapos/internal/domain"
	"dukapos/internal/store"
	"dukapos/internal/xid"
)

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		sell_price TEXT NOT NULL,
		cost_price TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS stock_purchases (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		cost_price TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		total TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sale_items (
		sale_id TEXT NOT NULL REFERENCES sales(id),
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price TEXT NOT NULL,
		subtotal TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stock_purchases_product ON stock_purchases(product_id);
	CREATE INDEX IF NOT EXISTS idx_sale_items_product ON sale_items(product_id);
	CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id);
	CREATE TABLE IF NOT EXISTS store_settings (
		id INTEGER PRIMARY KEY,
		store_name TEXT NOT NULL,
		receipt_footer TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

type productRow struct {
	ID        string          `db:"id"`
	Name      string          `db:"name"`
	Category  string          `db:"category"`
	SellPrice decimal.Decimal `db:"sell_price"`
	CostPrice decimal.Decimal `db:"cost_price"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{ID: r.ID, Name: r.Name, Category: r.Category, SellPrice: r.SellPrice, CostPrice: r.CostPrice}
}

type purchaseRow struct {
	ID        string          `db:"id"`
	ProductID string          `db:"product_id"`
	Quantity  int             `db:"quantity"`
	CostPrice decimal.Decimal `db:"cost_price"`
	CreatedAt time.Time       `db:"created_at"`
}

type saleItemRow struct {
	SaleID    string          `db:"sale_id"`
	ProductID string          `db:"product_id"`
	Quantity  int             `db:"quantity"`
	Price     decimal.Decimal `db:"price"`
	Subtotal  decimal.Decimal `db:"subtotal"`
}

func (r saleItemRow) toDomain() domain.SaleItem {
	return domain.SaleItem{SaleID: r.SaleID, ProductID: r.ProductID, Quantity: r.Quantity, UnitPrice: r.Price, Subtotal: r.Subtotal}
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var rows []productRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, category, sell_price, cost_price
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.toDomain())
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Category == "" {
		return nil, store.ErrValidation
	}
	if product.SellPrice.IsNegative() || product.CostPrice.IsNegative() {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, sell_price, cost_price)
		VALUES (?,?,?,?,?)
	`, product.ID, product.Name, product.Category, product.SellPrice, product.CostPrice)
	if err != nil {
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, category, sell_price, cost_price
		FROM products
		WHERE id = ?
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	product := row.toDomain()
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Category == "" {
		return nil, store.ErrValidation
	}
	if product.SellPrice.IsNegative() || product.CostPrice.IsNegative() {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = ?, category = ?, sell_price = ?, cost_price = ?
		WHERE id = ?
	`, product.Name, product.Category, product.SellPrice, product.CostPrice, product.ID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) CreateStockPurchase(ctx context.Context, purchase domain.StockPurchase) (*domain.StockPurchase, error) {
	if purchase.Quantity < 1 || purchase.UnitCost.IsNegative() {
		return nil, store.ErrValidation
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("sp")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	var exists int
	if err := s.db.GetContext(ctx, &exists, `SELECT COUNT(1) FROM products WHERE id = ?`, purchase.ProductID); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, store.ErrNotFound
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_purchases (id, product_id, quantity, cost_price, created_at)
		VALUES (?,?,?,?,?)
	`, purchase.ID, purchase.ProductID, purchase.Quantity, purchase.UnitCost, purchase.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := purchase
	return &created, nil
}

func (s *Store) ListStockPurchases(ctx context.Context, productID string) ([]domain.StockPurchase, error) {
	var rows []purchaseRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, product_id, quantity, cost_price, created_at
		FROM stock_purchases
		WHERE (? = '' OR product_id = ?)
		ORDER BY created_at
	`, productID, productID)
	if err != nil {
		return nil, err
	}

	purchases := make([]domain.StockPurchase, 0, len(rows))
	for _, row := range rows {
		purchases = append(purchases, domain.StockPurchase{
			ID:        row.ID,
			ProductID: row.ProductID,
			Quantity:  row.Quantity,
			UnitCost:  row.CostPrice,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return purchases, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, items []domain.SaleItem) (*domain.Sale, error) {
	if len(items) == 0 {
		return nil, store.ErrEmptyCart
	}
	requested := make(map[string]int, len(items))
	productIDs := make([]string, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 || item.UnitPrice.IsNegative() {
			return nil, store.ErrValidation
		}
		if _, seen := requested[item.ProductID]; !seen {
			productIDs = append(productIDs, item.ProductID)
		}
		requested[item.ProductID] += item.Quantity
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Live stock recheck inside the transaction. The single-connection
	// pool means no other commit can interleave with this one.
	for _, productID := range productIDs {
		var exists int
		if err := tx.GetContext(ctx, &exists, `SELECT COUNT(1) FROM products WHERE id = ?`, productID); err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, store.ErrNotFound
		}

		var purchased, sold int
		if err := tx.GetContext(ctx, &purchased, `
			SELECT COALESCE(SUM(quantity), 0) FROM stock_purchases WHERE product_id = ?
		`, productID); err != nil {
			return nil, err
		}
		if err := tx.GetContext(ctx, &sold, `
			SELECT COALESCE(SUM(quantity), 0) FROM sale_items WHERE product_id = ?
		`, productID); err != nil {
			return nil, err
		}

		available := purchased - sold
		if available < requested[productID] {
			return nil, &store.InsufficientStockError{
				ProductID: productID,
				Requested: requested[productID],
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

	total := decimal.Zero
	recomputed := make([]domain.SaleItem, 0, len(items))
	for _, item := range items {
		item.SaleID = sale.ID
		item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(item.Subtotal)
		recomputed = append(recomputed, item)
	}
	sale.Total = total

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, total, created_at)
		VALUES (?,?,?)
	`, sale.ID, sale.Total, sale.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range recomputed {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, quantity, price, subtotal)
			VALUES (?,?,?,?,?)
		`, item.SaleID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, []domain.SaleItem, error) {
	var sale struct {
		ID        string          `db:"id"`
		Total     decimal.Decimal `db:"total"`
		CreatedAt time.Time       `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &sale, `SELECT id, total, created_at FROM sales WHERE id = ?`, saleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}

	var rows []saleItemRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT sale_id, product_id, quantity, price, subtotal
		FROM sale_items
		WHERE sale_id = ?
	`, saleID); err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, store.ErrInvariantViolation
	}

	items := make([]domain.SaleItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return &domain.Sale{ID: sale.ID, Total: sale.Total, CreatedAt: sale.CreatedAt.UTC()}, items, nil
}

func (s *Store) ListSaleItems(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleItem, error) {
	query := `
		SELECT si.sale_id, si.product_id, si.quantity, si.price, si.subtotal
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
	`
	args := make([]any, 0, 2)
	where := ""
	if !from.IsZero() {
		where = " WHERE s.created_at >= ?"
		args = append(args, from)
	}
	if !to.IsZero() {
		if where == "" {
			where = " WHERE s.created_at <= ?"
		} else {
			where += " AND s.created_at <= ?"
		}
		args = append(args, to)
	}

	var rows []saleItemRow
	if err := s.db.SelectContext(ctx, &rows, query+where+" ORDER BY s.created_at", args...); err != nil {
		return nil, err
	}

	items := make([]domain.SaleItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	var row struct {
		StoreName     string `db:"store_name"`
		ReceiptFooter string `db:"receipt_footer"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT store_name, receipt_footer FROM store_settings WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Settings{StoreName: "Duka POS"}, nil
		}
		return domain.Settings{}, err
	}
	return domain.Settings{StoreName: row.StoreName, ReceiptFooter: row.ReceiptFooter}, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	if settings.StoreName == "" {
		return domain.Settings{}, store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_settings (id, store_name, receipt_footer)
		VALUES (1,?,?)
		ON CONFLICT (id)
		DO UPDATE SET store_name = excluded.store_name, receipt_footer = excluded.receipt_footer
	`, settings.StoreName, settings.ReceiptFooter)
	if err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES (?,?,?,?,?)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []struct {
		Username  string    `db:"username"`
		Password  string    `db:"password"`
		Role      string    `db:"role"`
		Active    bool      `db:"active"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`); err != nil {
		return nil, err
	}

	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		users = append(users, domain.UserAccount{
			Username:  row.Username,
			Password:  row.Password,
			Role:      row.Role,
			Active:    row.Active,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = ? WHERE username = ?`, password, username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
