package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadSignature   = errors.New("webhook signature verification failed")
	ErrStaleTimestamp = errors.New("webhook timestamp outside tolerance")
)

// DefaultTolerance bounds how old a signed event may be before it is
// rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

// Event types delivered by the gateway.
const (
	EventAuthorizationSucceeded = "authorization.succeeded"
	EventAuthorizationFailed    = "authorization.failed"
)

// Event is a verified gateway notification. Data carries the authorization
// payload; interpretation is the fulfillment coordinator's job.
type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AuthorizationPayload is the event data for authorization.* events.
type AuthorizationPayload struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// VerifyEvent checks the signature header against the raw payload and the
// shared secret, then decodes the event. The header format is
// "t=<unix>,v1=<hex>" where v1 = HMAC-SHA256(secret, "<t>.<payload>").
// Nothing downstream may run on a payload that fails verification.
func VerifyEvent(payload []byte, sigHeader string, secret []byte) (*Event, error) {
	return verifyEventAt(payload, sigHeader, secret, time.Now(), DefaultTolerance)
}

func verifyEventAt(payload []byte, sigHeader string, secret []byte, now time.Time, tolerance time.Duration) (*Event, error) {
	var ts int64
	var sig []byte
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad timestamp", ErrBadSignature)
			}
			ts = n
		case "v1":
			b, err := hex.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("%w: bad hex", ErrBadSignature)
			}
			sig = b
		}
	}
	if ts == 0 || len(sig) == 0 {
		return nil, fmt.Errorf("%w: missing signature elements", ErrBadSignature)
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return nil, ErrStaleTimestamp
	}

	expected := computeSignature(secret, ts, payload)
	if !hmac.Equal(sig, expected) {
		return nil, ErrBadSignature
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: undecodable payload", ErrBadSignature)
	}
	return &event, nil
}

// SignPayload produces the signature header for a payload. Used by tests and
// the local dev gateway.
func SignPayload(secret []byte, ts int64, payload []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeSignature(secret, ts, payload)))
}

func computeSignature(secret []byte, ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return mac.Sum(nil)
}
