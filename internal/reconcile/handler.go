package reconcile

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/checkout-fulfillment/internal/fulfillment"
)

// AlertSender delivers a fulfillment-failure alert to operators.
type AlertSender interface {
	SendFulfillmentAlert(to string, failure fulfillment.FulfillmentFailed) error
}

// Handler consumes fulfillment events and escalates failures. It is the
// concrete end of the refund/manual-review path: a payment that succeeded
// without producing an order must reach a human.
type Handler struct {
	alerts  AlertSender
	opsAddr string
}

func NewHandler(alerts AlertSender, opsAddr string) *Handler {
	return &Handler{
		alerts:  alerts,
		opsAddr: opsAddr,
	}
}

// HandleMessage processes one Kafka message. Delivery is at least once, so
// a re-sent alert is acceptable; a dropped one is not. Send failures are
// returned so the consumer logs them and redelivery can retry.
func (h *Handler) HandleMessage(ctx context.Context, key, value []byte) error {
	var failure fulfillment.FulfillmentFailed
	if err := json.Unmarshal(value, &failure); err != nil {
		log.Printf("[Reconciler] Undecodable event for key %s: %v", key, err)
		return nil
	}

	// Only failures carry a reason; fulfilled/authorization-failed audit
	// events decode with an empty one and need no action.
	if failure.Reason == "" {
		return nil
	}

	log.Printf("[Reconciler] Escalating failed fulfillment for payment %s (reason %s)",
		failure.PaymentReference, failure.Reason)

	if err := h.alerts.SendFulfillmentAlert(h.opsAddr, failure); err != nil {
		log.Printf("[Reconciler] Failed to send alert for payment %s: %v", failure.PaymentReference, err)
		return err
	}
	return nil
}
