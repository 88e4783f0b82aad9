package order

import (
	"context"
	"errors"
	"time"
)

var ErrEmptyOrder = errors.New("order must have at least one item")

type Status string

const (
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Item is a line of a completed order, snapshotting the product name and
// unit price at fulfillment time. Price is in minor currency units.
type Item struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

// Order is the durable record of a fulfilled payment. PaymentReference is
// the gateway authorization id; exactly one order may exist per reference.
// All money fields are minor currency units.
type Order struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Items            []Item    `json:"items"`
	ItemsPrice       int64     `json:"items_price"`
	TaxPrice         int64     `json:"tax_price"`
	ShippingPrice    int64     `json:"shipping_price"`
	TotalPrice       int64     `json:"total_price"`
	PaymentReference string    `json:"payment_reference"`
	Paid             bool      `json:"paid"`
	PaidAt           time.Time `json:"paid_at"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store persists orders keyed by payment reference.
//
// FindByPaymentReference returns (nil, nil) when no order exists for the
// reference. CreateIfAbsent persists the order unless one with the same
// payment reference already exists; it returns false in that case and never
// overwrites. The uniqueness check must hold under concurrent callers, since
// duplicate gateway events may race on the same reference.
type Store interface {
	FindByPaymentReference(ctx context.Context, ref string) (*Order, error)
	CreateIfAbsent(ctx context.Context, o *Order) (bool, error)
}
