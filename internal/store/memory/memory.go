package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/checkout-fulfillment/internal/catalog"
	"github.com/example/checkout-fulfillment/internal/inventory"
	"github.com/example/checkout-fulfillment/internal/order"
)

// Store is an in-memory catalog, inventory ledger and order store. The
// mutex makes stock decrements linearizable and the payment-reference index
// unique under concurrent callers. Default backend for dev and tests.
type Store struct {
	mu       sync.Mutex
	products map[string]*catalog.Product
	orders   map[string]*order.Order // keyed by payment reference
}

func NewStore() *Store {
	return &Store{
		products: make(map[string]*catalog.Product),
		orders:   make(map[string]*order.Order),
	}
}

// SeedProduct inserts or replaces a product. Dev/test helper.
func (s *Store) SeedProduct(p *catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.ID] = &cp
}

// Product returns a snapshot of the product.
func (s *Store) Product(ctx context.Context, id string) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

// StockOf returns the current stock count. Test helper.
func (s *Store) StockOf(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[id]; ok {
		return p.Stock
	}
	return 0
}

// Decrement subtracts quantity from stock only if enough remains. The check
// and the write happen under one lock, so two racing decrements against
// stock of 1 yield exactly one success.
func (s *Store) Decrement(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	if p.Stock < quantity {
		return inventory.ErrInsufficientStock
	}
	p.Stock -= quantity
	return nil
}

// Increment restores stock. Compensating action for Decrement.
func (s *Store) Increment(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	p.Stock += quantity
	return nil
}

// FindByPaymentReference returns the order for a payment reference, or
// (nil, nil) if none exists.
func (s *Store) FindByPaymentReference(ctx context.Context, ref string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[ref]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

// CreateIfAbsent persists the order unless one already exists for its
// payment reference. Returns false on the duplicate path.
func (s *Store) CreateIfAbsent(ctx context.Context, o *order.Order) (bool, error) {
	if o.PaymentReference == "" {
		return false, fmt.Errorf("order %s has no payment reference", o.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.PaymentReference]; exists {
		return false, nil
	}
	cp := *o
	s.orders[o.PaymentReference] = &cp
	return true, nil
}
