// Package postgres is the production backend. CreateSale relies on a
// serializable transaction plus FOR UPDATE locks on the product rows so
// the live-stock recheck and the sale/item inserts are atomic with
// respect to concurrent commits.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
	"dukapos/internal/store"
	"dukapos/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

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
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			sell_price NUMERIC(14,2) NOT NULL,
			cost_price NUMERIC(14,2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS stock_purchases (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL REFERENCES products(id),
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			cost_price NUMERIC(14,2) NOT NULL CHECK (cost_price >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			total NUMERIC(14,2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sale_items (
			sale_id TEXT NOT NULL REFERENCES sales(id),
			product_id TEXT NOT NULL REFERENCES products(id),
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			price NUMERIC(14,2) NOT NULL,
			subtotal NUMERIC(14,2) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_purchases_product ON stock_purchases(product_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_items_product ON sale_items(product_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id)`,
		`CREATE TABLE IF NOT EXISTS store_settings (
			id INTEGER PRIMARY KEY,
			store_name TEXT NOT NULL,
			receipt_footer TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, sell_price, cost_price
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.SellPrice, &p.CostPrice); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
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
		INSERT INTO products (id, name, category, sell_price, cost_price, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
	`, product.ID, product.Name, product.Category, product.SellPrice, product.CostPrice)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, sell_price, cost_price
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &product.Category, &product.SellPrice, &product.CostPrice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
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
		SET name = $2, category = $3, sell_price = $4, cost_price = $5, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.SellPrice, product.CostPrice)
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_purchases (id, product_id, quantity, cost_price, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, purchase.ID, purchase.ProductID, purchase.Quantity, purchase.UnitCost, purchase.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := purchase
	return &created, nil
}

func (s *Store) ListStockPurchases(ctx context.Context, productID string) ([]domain.StockPurchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, quantity, cost_price, created_at
		FROM stock_purchases
		WHERE ($1 = '' OR product_id = $1)
		ORDER BY created_at
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]domain.StockPurchase, 0, 64)
	for rows.Next() {
		var purchase domain.StockPurchase
		if err := rows.Scan(&purchase.ID, &purchase.ProductID, &purchase.Quantity, &purchase.UnitCost, &purchase.CreatedAt); err != nil {
			return nil, err
		}
		purchase.CreatedAt = purchase.CreatedAt.UTC()
		purchases = append(purchases, purchase)
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	// Lock the product rows first. This serializes concurrent commits
	// touching the same products, so the SUM-based recheck below cannot
	// race another commit's sale_items insert.
	lockRows, err := pgTx.QueryContext(ctx, `
		SELECT id FROM products WHERE id = ANY($1) FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, err
	}
	locked := make(map[string]bool, len(productIDs))
	for lockRows.Next() {
		var id string
		if err := lockRows.Scan(&id); err != nil {
			_ = lockRows.Close()
			return nil, err
		}
		locked[id] = true
	}
	if err := lockRows.Err(); err != nil {
		_ = lockRows.Close()
		return nil, err
	}
	_ = lockRows.Close()
	for _, id := range productIDs {
		if !locked[id] {
			return nil, store.ErrNotFound
		}
	}

	// Live stock recheck from the two logs; the cart's stale snapshot
	// plays no part here.
	for _, productID := range productIDs {
		var purchased, sold int
		err := pgTx.QueryRowContext(ctx, `
			SELECT
				COALESCE((SELECT SUM(quantity) FROM stock_purchases WHERE product_id = $1), 0),
				COALESCE((SELECT SUM(quantity) FROM sale_items WHERE product_id = $1), 0)
		`, productID).Scan(&purchased, &sold)
		if err != nil {
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

	// The total comes from the lines, never from the caller.
	total := decimal.Zero
	recomputed := make([]domain.SaleItem, 0, len(items))
	for _, item := range items {
		item.SaleID = sale.ID
		item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(item.Subtotal)
		recomputed = append(recomputed, item)
	}
	sale.Total = total

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, total, created_at)
		VALUES ($1,$2,$3)
	`, sale.ID, sale.Total, sale.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range recomputed {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, quantity, price, subtotal)
			VALUES ($1,$2,$3,$4,$5)
		`, item.SaleID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, []domain.SaleItem, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, total, created_at FROM sales WHERE id = $1
	`, saleID).Scan(&sale.ID, &sale.Total, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, quantity, price, subtotal
		FROM sale_items
		WHERE sale_id = $1
	`, saleID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 4)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.SaleID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(items) == 0 {
		// Sales and their items are written in one transaction; a sale
		// without items means that guarantee was broken somewhere.
		return nil, nil, store.ErrInvariantViolation
	}
	return &sale, items, nil
}

func (s *Store) ListSaleItems(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT si.sale_id, si.product_id, si.quantity, si.price, si.subtotal
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		WHERE ($1::timestamptz IS NULL OR s.created_at >= $1)
			AND ($2::timestamptz IS NULL OR s.created_at <= $2)
		ORDER BY s.created_at
	`, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 128)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.SaleID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT store_name, receipt_footer FROM store_settings WHERE id = 1
	`).Scan(&settings.StoreName, &settings.ReceiptFooter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Settings{StoreName: "Duka POS"}, nil
		}
		return domain.Settings{}, err
	}
	return settings, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	if settings.StoreName == "" {
		return domain.Settings{}, store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_settings (id, store_name, receipt_footer)
		VALUES (1,$1,$2)
		ON CONFLICT (id)
		DO UPDATE SET store_name = EXCLUDED.store_name, receipt_footer = EXCLUDED.receipt_footer
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
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrValidation
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
