package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrGateway = errors.New("payment gateway error")

// Authorization statuses as reported by the gateway. Transitions are driven
// exclusively by the gateway; this service only observes them.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Metadata keys attached to an authorization so its confirming event can be
// correlated back to a checkout without a lookup table.
const (
	MetaUserID        = "user_id"
	MetaItems         = "items"
	MetaShippingPrice = "shipping_price"
	MetaCurrency      = "currency"
)

// Authorization is the gateway's reservation of funds. Amount is in minor
// currency units. ClientToken is handed to the client to complete payment
// out-of-band.
type Authorization struct {
	ID          string            `json:"id"`
	ClientToken string            `json:"client_token"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata"`
}

// Client talks to the payment processor's authorization API. All calls are
// bounded by the underlying http.Client timeout; a timed-out create is safe
// to retry because each attempt opens a fresh authorization.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateAuthorization opens an authorization for amount minor units and
// returns the gateway-issued record including the client token.
func (c *Client) CreateAuthorization(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Authorization, error) {
	body, err := json.Marshal(map[string]any{
		"amount":   amount,
		"currency": currency,
		"metadata": metadata,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/authorizations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrGateway, resp.StatusCode, msg)
	}

	var auth Authorization
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrGateway, err)
	}
	if auth.Amount == 0 {
		auth.Amount = amount
	}
	if auth.Currency == "" {
		auth.Currency = currency
	}
	return &auth, nil
}
