package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/checkout-fulfillment/internal/catalog"
	"github.com/example/checkout-fulfillment/internal/inventory"
	"github.com/example/checkout-fulfillment/internal/order"
	_ "github.com/lib/pq"
)

// Store backs the catalog, inventory ledger and order store with PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE products (
//	    id         TEXT PRIMARY KEY,
//	    name       TEXT NOT NULL,
//	    price      BIGINT NOT NULL,
//	    sale_price BIGINT,
//	    stock      INTEGER NOT NULL CHECK (stock >= 0)
//	);
//	CREATE TABLE orders (
//	    id                TEXT PRIMARY KEY,
//	    user_id           TEXT NOT NULL,
//	    items             JSONB NOT NULL,
//	    items_price       BIGINT NOT NULL,
//	    tax_price         BIGINT NOT NULL,
//	    shipping_price    BIGINT NOT NULL,
//	    total_price       BIGINT NOT NULL,
//	    payment_reference TEXT NOT NULL UNIQUE,
//	    paid              BOOLEAN NOT NULL,
//	    paid_at           TIMESTAMPTZ NOT NULL,
//	    status            TEXT NOT NULL,
//	    created_at        TIMESTAMPTZ NOT NULL
//	);
//
// The UNIQUE constraint on payment_reference enforces the one-order-per-
// authorization invariant even under concurrent duplicate events.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Connect opens and pings a PostgreSQL connection.
func Connect(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (s *Store) Product(ctx context.Context, id string) (*catalog.Product, error) {
	p := catalog.Product{ID: id}
	var sale sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, price, sale_price, stock FROM products WHERE id = $1`,
		id,
	).Scan(&p.Name, &p.Price, &sale, &p.Stock)
	if err == sql.ErrNoRows {
		return nil, catalog.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	if sale.Valid {
		p.SalePrice = &sale.Int64
	}
	return &p, nil
}

// Decrement performs the conditional decrement as a single guarded UPDATE,
// so the stock check and the write cannot interleave with another caller.
func (s *Store) Decrement(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`,
		productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing product from a raced-away stock count.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if !exists {
			return catalog.ErrProductNotFound
		}
		return inventory.ErrInsufficientStock
	}
	return nil
}

func (s *Store) Increment(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET stock = stock + $2 WHERE id = $1`,
		productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return catalog.ErrProductNotFound
	}
	return nil
}

func (s *Store) FindByPaymentReference(ctx context.Context, ref string) (*order.Order, error) {
	var o order.Order
	var items []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, items, items_price, tax_price, shipping_price, total_price,
		        payment_reference, paid, paid_at, status, created_at
		 FROM orders WHERE payment_reference = $1`,
		ref,
	).Scan(&o.ID, &o.UserID, &items, &o.ItemsPrice, &o.TaxPrice, &o.ShippingPrice,
		&o.TotalPrice, &o.PaymentReference, &o.Paid, &o.PaidAt, &o.Status, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	return &o, nil
}

func (s *Store) CreateIfAbsent(ctx context.Context, o *order.Order) (bool, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, items, items_price, tax_price, shipping_price,
		                     total_price, payment_reference, paid, paid_at, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (payment_reference) DO NOTHING`,
		o.ID, o.UserID, items, o.ItemsPrice, o.TaxPrice, o.ShippingPrice,
		o.TotalPrice, o.PaymentReference, o.Paid, o.PaidAt, o.Status, o.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
