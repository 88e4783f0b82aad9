package catalog

import (
	"context"
	"errors"
)

var ErrProductNotFound = errors.New("product not found")

// Product is a point-in-time snapshot of a catalog entry. Prices are in
// minor currency units (cents). Stock is the count visible at read time;
// only the inventory ledger may mutate it.
type Product struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	SalePrice *int64 `json:"sale_price,omitempty"`
	Stock     int    `json:"stock"`
}

// UnitPrice returns the effective selling price: the sale price when one is
// set and lower than the list price.
func (p *Product) UnitPrice() int64 {
	if p.SalePrice != nil && *p.SalePrice < p.Price {
		return *p.SalePrice
	}
	return p.Price
}

// Store reads product snapshots. Implementations must return the current
// server-side state; callers never supply prices.
type Store interface {
	Product(ctx context.Context, id string) (*Product, error)
}
