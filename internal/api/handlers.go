package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/checkout-fulfillment/internal/api/middleware"
	"github.com/example/checkout-fulfillment/internal/catalog"
	"github.com/example/checkout-fulfillment/internal/fulfillment"
	"github.com/example/checkout-fulfillment/internal/gateway"
	"github.com/example/checkout-fulfillment/internal/inventory"
	"github.com/example/checkout-fulfillment/internal/order"
	"github.com/example/checkout-fulfillment/internal/pricing"
)

const maxWebhookBody = 1 << 20 // 1MB

// SignatureHeader carries the gateway's event signature.
const SignatureHeader = "Gateway-Signature"

// AuthorizationCreator is the slice of the gateway client the checkout
// handler needs.
type AuthorizationCreator interface {
	CreateAuthorization(ctx context.Context, amount int64, currency string, metadata map[string]string) (*gateway.Authorization, error)
}

// EventHandler processes verified gateway events.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt *gateway.Event) error
}

type Handlers struct {
	pricing       *pricing.Engine
	gateway       AuthorizationCreator
	coordinator   EventHandler
	orders        order.Store
	webhookSecret []byte
}

func NewHandlers(pricingEngine *pricing.Engine, gw AuthorizationCreator, coordinator EventHandler, orders order.Store, webhookSecret []byte) *Handlers {
	return &Handlers{
		pricing:       pricingEngine,
		gateway:       gw,
		coordinator:   coordinator,
		orders:        orders,
		webhookSecret: webhookSecret,
	}
}

type checkoutRequest struct {
	Items         []pricing.CartLine `json:"items"`
	ShippingPrice int64              `json:"shipping_price"`
	CouponCode    string             `json:"coupon_code"`
}

type checkoutResponse struct {
	AuthorizationID string `json:"authorization_id"`
	ClientToken     string `json:"client_token"`
	Total           int64  `json:"total"`
	Currency        string `json:"currency"`
}

// CreateCheckout quotes the cart from catalog state and opens a payment
// authorization carrying the cart snapshot as metadata. The client-supplied
// body never contains a price.
func (h *Handlers) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		respondError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	quote, err := h.pricing.Quote(r.Context(), req.Items, req.ShippingPrice, req.CouponCode)
	if err != nil {
		respondError(w, err.Error(), quoteErrorStatus(err))
		return
	}

	itemsJSON, err := json.Marshal(req.Items)
	if err != nil {
		respondError(w, "internal error", http.StatusInternalServerError)
		return
	}

	auth, err := h.gateway.CreateAuthorization(r.Context(), quote.Total, quote.Currency, map[string]string{
		gateway.MetaUserID:        userID,
		gateway.MetaItems:         string(itemsJSON),
		gateway.MetaShippingPrice: strconv.FormatInt(quote.ShippingPrice, 10),
		gateway.MetaCurrency:      quote.Currency,
	})
	if err != nil {
		log.Printf("[API] Authorization creation failed for user %s: %v", userID, err)
		respondError(w, "payment gateway unavailable", http.StatusBadGateway)
		return
	}

	respondJSON(w, http.StatusCreated, checkoutResponse{
		AuthorizationID: auth.ID,
		ClientToken:     auth.ClientToken,
		Total:           quote.Total,
		Currency:        quote.Currency,
	})
}

// HandleWebhook receives signed gateway events. Unverified payloads are
// rejected before any processing. Duplicates, stock races and malformed
// metadata are acknowledged so the gateway stops retrying; those paths are
// already logged or escalated. Transient store failures return 500 and the
// gateway redelivers, which the idempotency guard makes safe.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, "unreadable body", http.StatusBadRequest)
		return
	}

	event, err := gateway.VerifyEvent(payload, r.Header.Get(SignatureHeader), h.webhookSecret)
	if err != nil {
		log.Printf("[API] SECURITY: webhook signature rejected from %s: %v", r.RemoteAddr, err)
		respondError(w, "signature verification failed", http.StatusUnauthorized)
		return
	}

	if err := h.coordinator.HandleEvent(r.Context(), event); err != nil {
		switch {
		case errors.Is(err, fulfillment.ErrStockRace),
			errors.Is(err, fulfillment.ErrMalformedMetadata):
			// Escalated inside the coordinator; redelivery would not help.
		default:
			log.Printf("[API] Webhook processing failed for event %s: %v", event.ID, err)
			respondError(w, "processing failed", http.StatusInternalServerError)
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// GetOrderByPaymentReference returns the caller's order for an
// authorization id, if fulfillment has completed.
func (h *Handlers) GetOrderByPaymentReference(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	ref := extractPathParam(r.URL.Path, "/orders/by-payment/")
	if ref == "" {
		respondError(w, "missing payment reference", http.StatusBadRequest)
		return
	}

	o, err := h.orders.FindByPaymentReference(r.Context(), ref)
	if err != nil {
		log.Printf("[API] Order lookup failed for %s: %v", ref, err)
		respondError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if o == nil || o.UserID != userID {
		respondError(w, "order not found", http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func quoteErrorStatus(err error) int {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, pricing.ErrEmptyCart), errors.Is(err, pricing.ErrInvalidQuantity):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

func extractPathParam(path, prefix string) string {
	param := strings.TrimPrefix(path, prefix)
	return strings.TrimSuffix(param, "/")
}
