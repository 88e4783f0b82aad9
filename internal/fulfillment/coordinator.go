package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/example/checkout-fulfillment/internal/catalog"
	"github.com/example/checkout-fulfillment/internal/gateway"
	"github.com/example/checkout-fulfillment/internal/inventory"
	"github.com/example/checkout-fulfillment/internal/order"
	"github.com/example/checkout-fulfillment/internal/pricing"
)

var (
	// ErrStockRace means the payment succeeded but stock was gone by
	// fulfillment time. The caller acks the event; the escalation event
	// carries it to the refund path.
	ErrStockRace = errors.New("stock unavailable at fulfillment time")

	// ErrMalformedMetadata means the cart snapshot on the authorization
	// could not be parsed. Fatal for the event, logged for manual recovery.
	ErrMalformedMetadata = errors.New("malformed authorization metadata")
)

// TaxRateBP is the order tax rate in basis points. Tax rounds half up.
const TaxRateBP = 1000

const (
	compensateRetries = 3
	compensateBackoff = 100 * time.Millisecond
)

// EventPublisher is the narrow slice of the Kafka producer the coordinator
// needs. Publish failures on audit events are logged, never fatal.
type EventPublisher interface {
	Publish(ctx context.Context, key, eventType string, event any) error
}

// Coordinator turns verified gateway events into orders. For each succeeded
// authorization it decrements stock and creates the order exactly once, no
// matter how many times the event is delivered. Decrements that cannot be
// followed by an order are compensated with equal-and-opposite increments.
type Coordinator struct {
	catalog catalog.Store
	ledger  inventory.Ledger
	orders  order.Store
	events  EventPublisher
}

func NewCoordinator(cat catalog.Store, ledger inventory.Ledger, orders order.Store, events EventPublisher) *Coordinator {
	return &Coordinator{
		catalog: cat,
		ledger:  ledger,
		orders:  orders,
		events:  events,
	}
}

// HandleEvent dispatches a verified gateway event. Unknown types are acked
// and ignored. Gateways deliver at least once with no ordering across
// authorizations, so every path in here must be idempotent.
func (c *Coordinator) HandleEvent(ctx context.Context, evt *gateway.Event) error {
	switch evt.Type {
	case gateway.EventAuthorizationSucceeded:
		return c.handleSucceeded(ctx, evt)
	case gateway.EventAuthorizationFailed:
		return c.handleFailed(ctx, evt)
	default:
		log.Printf("[Fulfillment] Ignoring event type %s", evt.Type)
		return nil
	}
}

func (c *Coordinator) handleSucceeded(ctx context.Context, evt *gateway.Event) error {
	var auth gateway.AuthorizationPayload
	if err := json.Unmarshal(evt.Data, &auth); err != nil || auth.ID == "" {
		log.Printf("[Fulfillment] Undecodable authorization payload on event %s: %v", evt.ID, err)
		return fmt.Errorf("%w: event %s", ErrMalformedMetadata, evt.ID)
	}

	// Idempotency guard: an order for this authorization means the work
	// already happened, possibly on a previous delivery.
	existing, err := c.orders.FindByPaymentReference(ctx, auth.ID)
	if err != nil {
		return fmt.Errorf("idempotency lookup for %s: %w", auth.ID, err)
	}
	if existing != nil {
		log.Printf("[Fulfillment] Duplicate event for authorization %s, order %s exists", auth.ID, existing.ID)
		return nil
	}

	userID, lines, shipping, err := parseMetadata(auth.Metadata)
	if err != nil {
		log.Printf("[Fulfillment] Authorization %s has unusable metadata, needs manual recovery: %v", auth.ID, err)
		return err
	}

	// Decrement saga: conditional decrements line by line, rolling back
	// everything applied so far on the first failure.
	var applied []pricing.CartLine
	for _, line := range lines {
		if err := c.ledger.Decrement(ctx, line.ProductID, line.Quantity); err != nil {
			c.compensate(ctx, auth.ID, userID, applied)
			c.publish(ctx, auth.ID, EventFulfillmentFailed, FulfillmentFailed{
				PaymentReference: auth.ID,
				UserID:           userID,
				Reason:           "stock_race",
				ProductID:        line.ProductID,
				FailedAt:         time.Now(),
			})
			return fmt.Errorf("%w: product %s for authorization %s: %v", ErrStockRace, line.ProductID, auth.ID, err)
		}
		applied = append(applied, line)
	}

	o, err := c.buildOrder(ctx, auth.ID, userID, lines, shipping)
	if err != nil {
		c.compensate(ctx, auth.ID, userID, applied)
		return fmt.Errorf("building order for %s: %w", auth.ID, err)
	}

	created, err := c.orders.CreateIfAbsent(ctx, o)
	if err != nil {
		c.compensate(ctx, auth.ID, userID, applied)
		return fmt.Errorf("persisting order for %s: %w", auth.ID, err)
	}
	if !created {
		// A concurrent delivery won the create race. Its decrements stand;
		// ours must be undone or stock would drop twice.
		c.compensate(ctx, auth.ID, userID, applied)
		log.Printf("[Fulfillment] Lost create race for authorization %s, reverted decrements", auth.ID)
		return nil
	}

	c.publish(ctx, auth.ID, EventOrderFulfilled, OrderFulfilled{
		OrderID:          o.ID,
		PaymentReference: auth.ID,
		UserID:           userID,
		TotalPrice:       o.TotalPrice,
		FulfilledAt:      o.PaidAt,
	})
	log.Printf("[Fulfillment] Order %s created for authorization %s (total %d)", o.ID, auth.ID, o.TotalPrice)
	return nil
}

func (c *Coordinator) handleFailed(ctx context.Context, evt *gateway.Event) error {
	var auth gateway.AuthorizationPayload
	if err := json.Unmarshal(evt.Data, &auth); err != nil {
		log.Printf("[Fulfillment] Undecodable failed-authorization payload on event %s: %v", evt.ID, err)
		return fmt.Errorf("%w: event %s", ErrMalformedMetadata, evt.ID)
	}
	log.Printf("[Fulfillment] Authorization %s failed, no fulfillment", auth.ID)
	c.publish(ctx, auth.ID, EventAuthorizationFailed, AuthorizationFailed{
		PaymentReference: auth.ID,
		UserID:           auth.Metadata[gateway.MetaUserID],
		FailedAt:         time.Now(),
	})
	return nil
}

// buildOrder re-reads product snapshots for names and unit prices and
// computes the order-of-record totals. Tax applies to the items price only,
// matching the reference behavior.
func (c *Coordinator) buildOrder(ctx context.Context, authID, userID string, lines []pricing.CartLine, shipping int64) (*order.Order, error) {
	var items []order.Item
	var itemsPrice int64
	for _, line := range lines {
		p, err := c.catalog.Product(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		unit := p.UnitPrice()
		items = append(items, order.Item{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  line.Quantity,
			Price:     unit,
		})
		itemsPrice += unit * int64(line.Quantity)
	}

	taxPrice := (itemsPrice*TaxRateBP + 5000) / 10000
	now := time.Now()
	return &order.Order{
		ID:               uuid.New().String(),
		UserID:           userID,
		Items:            items,
		ItemsPrice:       itemsPrice,
		TaxPrice:         taxPrice,
		ShippingPrice:    shipping,
		TotalPrice:       itemsPrice + taxPrice + shipping,
		PaymentReference: authID,
		Paid:             true,
		PaidAt:           now,
		Status:           order.StatusProcessing,
		CreatedAt:        now,
	}, nil
}

// compensate reverts applied decrements in reverse order. Each revert is
// retried; lines still unreverted after the retries are escalated so that
// stock can be reconciled manually.
func (c *Coordinator) compensate(ctx context.Context, authID, userID string, applied []pricing.CartLine) {
	var unreverted []UnrevertedLine
	for i := len(applied) - 1; i >= 0; i-- {
		line := applied[i]
		if err := c.incrementWithRetry(ctx, line.ProductID, line.Quantity); err != nil {
			log.Printf("[Fulfillment] Compensation exhausted for product %s qty %d (authorization %s): %v",
				line.ProductID, line.Quantity, authID, err)
			unreverted = append(unreverted, UnrevertedLine{ProductID: line.ProductID, Quantity: line.Quantity})
		}
	}
	if len(unreverted) > 0 {
		c.publish(ctx, authID, EventFulfillmentFailed, FulfillmentFailed{
			PaymentReference: authID,
			UserID:           userID,
			Reason:           "compensation_failed",
			UnrevertedLines:  unreverted,
			FailedAt:         time.Now(),
		})
	}
}

func (c *Coordinator) incrementWithRetry(ctx context.Context, productID string, quantity int) error {
	var err error
	for attempt := 1; attempt <= compensateRetries; attempt++ {
		if err = c.ledger.Increment(ctx, productID, quantity); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * compensateBackoff):
		}
	}
	return err
}

func (c *Coordinator) publish(ctx context.Context, key, eventType string, event any) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, key, eventType, event); err != nil {
		log.Printf("[Fulfillment] Failed to publish %s for %s: %v", eventType, key, err)
	}
}

// parseMetadata extracts the checkout correlation data set at authorization
// time. Any defect here is ErrMalformedMetadata: the payment is real but the
// cart cannot be reconstructed.
func parseMetadata(meta map[string]string) (userID string, lines []pricing.CartLine, shipping int64, err error) {
	userID = meta[gateway.MetaUserID]
	if userID == "" {
		return "", nil, 0, fmt.Errorf("%w: missing user id", ErrMalformedMetadata)
	}

	itemsJSON := meta[gateway.MetaItems]
	if itemsJSON == "" {
		return "", nil, 0, fmt.Errorf("%w: missing items", ErrMalformedMetadata)
	}
	if jsonErr := json.Unmarshal([]byte(itemsJSON), &lines); jsonErr != nil {
		return "", nil, 0, fmt.Errorf("%w: %v", ErrMalformedMetadata, jsonErr)
	}
	if len(lines) == 0 {
		return "", nil, 0, fmt.Errorf("%w: empty cart snapshot", ErrMalformedMetadata)
	}
	for _, line := range lines {
		if line.ProductID == "" || line.Quantity <= 0 {
			return "", nil, 0, fmt.Errorf("%w: bad line %+v", ErrMalformedMetadata, line)
		}
	}

	if raw := meta[gateway.MetaShippingPrice]; raw != "" {
		shipping, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || shipping < 0 {
			return "", nil, 0, fmt.Errorf("%w: bad shipping price %q", ErrMalformedMetadata, raw)
		}
	}
	return userID, lines, shipping, nil
}
