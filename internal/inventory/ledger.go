package inventory

import (
	"context"
	"errors"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// Ledger holds per-product stock counters. Decrement is conditional: it
// subtracts quantity only if current stock >= quantity, atomically with
// respect to concurrent callers on the same product, so stock can never
// go negative. Increment is the compensating action for a decrement that
// must be undone.
type Ledger interface {
	Decrement(ctx context.Context, productID string, quantity int) error
	Increment(ctx context.Context, productID string, quantity int) error
}
