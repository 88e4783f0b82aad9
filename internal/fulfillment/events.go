package fulfillment

import "time"

// Event types published to the fulfillment topic.
const (
	EventOrderFulfilled      = "order.fulfilled"
	EventFulfillmentFailed   = "fulfillment.failed"
	EventAuthorizationFailed = "authorization.failed"
)

// OrderFulfilled is the audit record of a completed fulfillment.
type OrderFulfilled struct {
	OrderID          string    `json:"order_id"`
	PaymentReference string    `json:"payment_reference"`
	UserID           string    `json:"user_id"`
	TotalPrice       int64     `json:"total_price"`
	FulfilledAt      time.Time `json:"fulfilled_at"`
}

// FulfillmentFailed marks a payment that succeeded but could not be
// fulfilled. Consumers route it to the refund/manual-review path.
// UnrevertedLines is non-empty only when compensation itself exhausted its
// retries and stock is known to be off by those amounts.
type FulfillmentFailed struct {
	PaymentReference string           `json:"payment_reference"`
	UserID           string           `json:"user_id"`
	Reason           string           `json:"reason"`
	ProductID        string           `json:"product_id,omitempty"`
	UnrevertedLines  []UnrevertedLine `json:"unreverted_lines,omitempty"`
	FailedAt         time.Time        `json:"failed_at"`
}

type UnrevertedLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// AuthorizationFailed is the audit record of a payment the gateway declined.
type AuthorizationFailed struct {
	PaymentReference string    `json:"payment_reference"`
	UserID           string    `json:"user_id"`
	FailedAt         time.Time `json:"failed_at"`
}
