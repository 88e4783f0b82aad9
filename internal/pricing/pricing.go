package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/checkout-fulfillment/internal/catalog"
	"github.com/example/checkout-fulfillment/internal/coupon"
	"github.com/example/checkout-fulfillment/internal/inventory"
)

var (
	ErrEmptyCart       = errors.New("cart must have at least one line")
	ErrInvalidQuantity = errors.New("line quantity must be positive")
)

// CartLine is a client-supplied cart entry. The quantity is taken at face
// value (validated positive); the price never is.
type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// QuoteLine is a cart line resolved against the catalog.
type QuoteLine struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Quote is the authoritative charge for a cart. All amounts are minor
// currency units. Total is what gets authorized: items + shipping - discount.
// Tax is applied to the order record at fulfillment time, not here.
type Quote struct {
	Lines         []QuoteLine `json:"lines"`
	ItemsPrice    int64       `json:"items_price"`
	ShippingPrice int64       `json:"shipping_price"`
	Discount      int64       `json:"discount"`
	Total         int64       `json:"total"`
	Currency      string      `json:"currency"`
}

// Engine recomputes order totals from catalog state. It has no side effects
// and re-reads every product at call time, so client-tampered prices never
// reach the gateway.
type Engine struct {
	catalog  catalog.Store
	coupons  coupon.Engine
	currency string
}

func NewEngine(cat catalog.Store, coupons coupon.Engine, currency string) *Engine {
	return &Engine{catalog: cat, coupons: coupons, currency: currency}
}

// Quote prices a cart. Shipping defaults to zero. The coupon discount is
// computed against the shipping-inclusive subtotal, before tax; rate
// fractions round half up.
//
// Returns catalog.ErrProductNotFound for an unknown product and
// inventory.ErrInsufficientStock when a line's quantity exceeds the stock
// visible at quote time.
func (e *Engine) Quote(ctx context.Context, lines []CartLine, shipping int64, couponCode string) (*Quote, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	if shipping < 0 {
		return nil, fmt.Errorf("shipping price cannot be negative")
	}

	q := &Quote{
		Lines:         make([]QuoteLine, 0, len(lines)),
		ShippingPrice: shipping,
		Currency:      e.currency,
	}

	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s", ErrInvalidQuantity, line.ProductID)
		}
		p, err := e.catalog.Product(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, line.ProductID)
		}
		if line.Quantity > p.Stock {
			return nil, fmt.Errorf("%w: %s", inventory.ErrInsufficientStock, p.Name)
		}

		unit := p.UnitPrice()
		q.Lines = append(q.Lines, QuoteLine{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  line.Quantity,
			UnitPrice: unit,
		})
		q.ItemsPrice += unit * int64(line.Quantity)
	}

	subtotal := q.ItemsPrice + q.ShippingPrice
	if couponCode != "" {
		discount, err := e.coupons.Discount(ctx, couponCode, subtotal)
		if err != nil {
			return nil, err
		}
		if discount > subtotal {
			discount = subtotal
		}
		q.Discount = discount
	}

	q.Total = subtotal - q.Discount
	return q, nil
}
