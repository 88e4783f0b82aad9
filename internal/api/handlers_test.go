package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/checkout-fulfillment/internal/auth"
	"github.com/example/checkout-fulfillment/internal/catalog"
	"github.com/example/checkout-fulfillment/internal/coupon"
	"github.com/example/checkout-fulfillment/internal/fulfillment"
	"github.com/example/checkout-fulfillment/internal/gateway"
	"github.com/example/checkout-fulfillment/internal/order"
	"github.com/example/checkout-fulfillment/internal/pricing"
	"github.com/example/checkout-fulfillment/internal/store/memory"
)

var webhookSecret = []byte("whsec_test_secret_for_handlers")

// fakeGateway records authorization requests and answers like the processor.
type fakeGateway struct {
	lastAmount   int64
	lastMetadata map[string]string
	err          error
}

func (f *fakeGateway) CreateAuthorization(ctx context.Context, amount int64, currency string, metadata map[string]string) (*gateway.Authorization, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastAmount = amount
	f.lastMetadata = metadata
	return &gateway.Authorization{
		ID:          "auth-test",
		ClientToken: "tok_client",
		Amount:      amount,
		Currency:    currency,
		Status:      gateway.StatusPending,
	}, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, key, eventType string, event any) error { return nil }

type testEnv struct {
	router  http.Handler
	store   *memory.Store
	gateway *fakeGateway
	jwt     *auth.JWTService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := memory.NewStore()
	gw := &fakeGateway{}
	jwtSvc := auth.NewJWTService("test-secret-string-of-enough-length", 15*time.Minute)

	engine := pricing.NewEngine(s, coupon.NewFixedPercent(1000), "usd")
	coordinator := fulfillment.NewCoordinator(s, s, s, nopPublisher{})
	handlers := NewHandlers(engine, gw, coordinator, s, webhookSecret)
	router := NewRouter(RouterConfig{Handlers: handlers, JWTService: jwtSvc})

	return &testEnv{router: router, store: s, gateway: gw, jwt: jwtSvc}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := e.jwt.GenerateAccessToken(userID, userID+"@example.com")
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) deliverWebhook(t *testing.T, eventType, authID string, meta map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(gateway.AuthorizationPayload{ID: authID, Metadata: meta})
	require.NoError(t, err)
	body, err := json.Marshal(gateway.Event{ID: "evt-" + authID, Type: eventType, Data: data})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, gateway.SignPayload(webhookSecret, time.Now().Unix(), body))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// ============================================
// Checkout Tests
// ============================================

func TestCreateCheckout_Success(t *testing.T) {
	env := newTestEnv(t)
	env.store.SeedProduct(&catalog.Product{ID: "a", Name: "Thing", Price: 9999, Stock: 3})

	rec := env.do(t, http.MethodPost, "/checkout", env.token(t, "user-1"), checkoutRequest{
		Items:         []pricing.CartLine{{ProductID: "a", Quantity: 1}},
		ShippingPrice: 500,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp checkoutResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "auth-test", resp.AuthorizationID)
	assert.Equal(t, "tok_client", resp.ClientToken)
	assert.Equal(t, int64(10499), resp.Total)

	// Metadata must let fulfillment reconstruct the checkout.
	assert.Equal(t, int64(10499), env.gateway.lastAmount)
	assert.Equal(t, "user-1", env.gateway.lastMetadata[gateway.MetaUserID])
	assert.Equal(t, "500", env.gateway.lastMetadata[gateway.MetaShippingPrice])
	assert.JSONEq(t, `[{"product_id":"a","quantity":1}]`, env.gateway.lastMetadata[gateway.MetaItems])
}

func TestCreateCheckout_Unauthorized(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/checkout", "", checkoutRequest{})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateCheckout_ProductNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/checkout", env.token(t, "user-1"), checkoutRequest{
		Items: []pricing.CartLine{{ProductID: "ghost", Quantity: 1}},
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCheckout_InsufficientStock(t *testing.T) {
	env := newTestEnv(t)
	env.store.SeedProduct(&catalog.Product{ID: "a", Name: "Thing", Price: 1000, Stock: 0})

	rec := env.do(t, http.MethodPost, "/checkout", env.token(t, "user-1"), checkoutRequest{
		Items: []pricing.CartLine{{ProductID: "a", Quantity: 1}},
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	// No authorization may be opened for unavailable stock.
	assert.Zero(t, env.gateway.lastAmount)
}

func TestCreateCheckout_GatewayUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.store.SeedProduct(&catalog.Product{ID: "a", Name: "Thing", Price: 1000, Stock: 5})
	env.gateway.err = errors.New("connection refused")

	rec := env.do(t, http.MethodPost, "/checkout", env.token(t, "user-1"), checkoutRequest{
		Items: []pricing.CartLine{{ProductID: "a", Quantity: 1}},
	})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

// ============================================
// Webhook Tests
// ============================================

func TestHandleWebhook_BadSignatureRejected(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"id":"evt-1","type":"authorization.succeeded","data":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, "t=1700000000,v1=deadbeef")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebhook_SucceededEventCreatesOrder(t *testing.T) {
	env := newTestEnv(t)
	env.store.SeedProduct(&catalog.Product{ID: "a", Name: "Thing", Price: 9999, Stock: 3})

	rec := env.deliverWebhook(t, gateway.EventAuthorizationSucceeded, "auth-1", map[string]string{
		gateway.MetaUserID:        "user-1",
		gateway.MetaItems:         `[{"product_id":"a","quantity":1}]`,
		gateway.MetaShippingPrice: "500",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	o, err := env.store.FindByPaymentReference(context.Background(), "auth-1")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, int64(11499), o.TotalPrice)
	assert.Equal(t, 2, env.store.StockOf("a"))
}

func TestHandleWebhook_DuplicateAcked(t *testing.T) {
	env := newTestEnv(t)
	env.store.SeedProduct(&catalog.Product{ID: "a", Name: "Thing", Price: 1000, Stock: 5})

	meta := map[string]string{
		gateway.MetaUserID: "user-1",
		gateway.MetaItems:  `[{"product_id":"a","quantity":1}]`,
	}
	rec1 := env.deliverWebhook(t, gateway.EventAuthorizationSucceeded, "auth-dup", meta)
	rec2 := env.deliverWebhook(t, gateway.EventAuthorizationSucceeded, "auth-dup", meta)

	assert.Equal(t, http.StatusOK, rec1.Code)
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, 4, env.store.StockOf("a"))
}

func TestHandleWebhook_StockRaceAcked(t *testing.T) {
	env := newTestEnv(t)
	env.store.SeedProduct(&catalog.Product{ID: "a", Name: "Thing", Price: 1000, Stock: 0})

	rec := env.deliverWebhook(t, gateway.EventAuthorizationSucceeded, "auth-race", map[string]string{
		gateway.MetaUserID: "user-1",
		gateway.MetaItems:  `[{"product_id":"a","quantity":1}]`,
	})

	// Payment succeeded, fulfillment cannot; escalated, not retried.
	assert.Equal(t, http.StatusOK, rec.Code)
	o, _ := env.store.FindByPaymentReference(context.Background(), "auth-race")
	assert.Nil(t, o)
}

func TestHandleWebhook_MalformedMetadataAcked(t *testing.T) {
	env := newTestEnv(t)

	rec := env.deliverWebhook(t, gateway.EventAuthorizationSucceeded, "auth-bad", map[string]string{
		gateway.MetaUserID: "user-1",
		gateway.MetaItems:  "not json",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
}

// ============================================
// Round-Trip Test
// ============================================

// Quote, authorize, fulfill: the authorization carries the quoted total and
// the resulting order reflects the documented order-of-record formula.
func TestCheckoutToOrderRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.store.SeedProduct(&catalog.Product{ID: "a", Name: "Thing", Price: 9999, Stock: 3})

	rec := env.do(t, http.MethodPost, "/checkout", env.token(t, "user-1"), checkoutRequest{
		Items:         []pricing.CartLine{{ProductID: "a", Quantity: 1}},
		ShippingPrice: 500,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp checkoutResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, resp.Total, env.gateway.lastAmount)

	// Gateway confirms with the same metadata it was given.
	whRec := env.deliverWebhook(t, gateway.EventAuthorizationSucceeded, resp.AuthorizationID, env.gateway.lastMetadata)
	require.Equal(t, http.StatusOK, whRec.Code)

	o, err := env.store.FindByPaymentReference(context.Background(), resp.AuthorizationID)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, int64(9999), o.ItemsPrice)
	assert.Equal(t, o.ItemsPrice+o.TaxPrice+o.ShippingPrice, o.TotalPrice)
	assert.Equal(t, resp.Total, o.ItemsPrice+o.ShippingPrice)
}

// ============================================
// Order Lookup Tests
// ============================================

func TestGetOrderByPaymentReference(t *testing.T) {
	env := newTestEnv(t)
	o := &order.Order{
		ID:               "order-1",
		UserID:           "user-1",
		PaymentReference: "auth-1",
		Paid:             true,
		Status:           order.StatusProcessing,
	}
	created, err := env.store.CreateIfAbsent(context.Background(), o)
	require.NoError(t, err)
	require.True(t, created)

	rec := env.do(t, http.MethodGet, "/orders/by-payment/auth-1", env.token(t, "user-1"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another user cannot see it.
	rec = env.do(t, http.MethodGet, "/orders/by-payment/auth-1", env.token(t, "user-2"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/orders/by-payment/unknown", env.token(t, "user-1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
