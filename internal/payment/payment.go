// Package payment talks to the external checkout gateway and decodes its
// webhook events into a typed union, so nothing downstream ever handles
// an untyped payload.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrUnavailable wraps any gateway failure; callers surface it as a
	// retryable upstream error, never as a client fault.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrBadSignature means the webhook payload was not signed with the
	// shared secret.
	ErrBadSignature = errors.New("invalid webhook signature")
)

// Session is a created checkout session: its gateway identifier and the
// page the client is redirected to.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutCreator is the slice of the gateway the order handlers use.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, orderID string, amountSar int64) (*Session, error)
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) CreateCheckoutSession(ctx context.Context, orderID string, amountSar int64) (*Session, error) {
	payload, err := json.Marshal(map[string]any{
		"order_id": orderID,
		"amount":   amountSar,
		"currency": "sar",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal checkout request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/checkout/sessions", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if session.ID == "" || session.URL == "" {
		return nil, fmt.Errorf("%w: incomplete session in response", ErrUnavailable)
	}

	return &session, nil
}

// Event is one decoded webhook notification.
type Event interface{ isEvent() }

// CheckoutCompleted reports a paid checkout session for an order.
type CheckoutCompleted struct {
	OrderID    string
	PaymentRef string
}

// CheckoutExpired reports an abandoned checkout session. No state change
// is defined for it; the webhook handler only logs it.
type CheckoutExpired struct {
	OrderID string
}

// Other is any event kind this service does not act on.
type Other struct {
	Kind string
}

func (CheckoutCompleted) isEvent() {}
func (CheckoutExpired) isEvent()   {}
func (Other) isEvent()             {}

type eventEnvelope struct {
	Type string `json:"type"`
	Data struct {
		OrderID    string `json:"order_id"`
		PaymentRef string `json:"payment_ref"`
	} `json:"data"`
}

// ParseEvent verifies the gateway's HMAC-SHA256 signature over the raw
// payload and decodes it into a typed event. Authenticity lives here, at
// the boundary; the lifecycle engine never sees the blob.
func ParseEvent(payload []byte, signature string, secret []byte) (Event, error) {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return nil, ErrBadSignature
	}

	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	switch env.Type {
	case "checkout.completed":
		if env.Data.OrderID == "" || env.Data.PaymentRef == "" {
			return nil, fmt.Errorf("checkout.completed event missing order_id or payment_ref")
		}
		return CheckoutCompleted{OrderID: env.Data.OrderID, PaymentRef: env.Data.PaymentRef}, nil
	case "checkout.expired":
		if env.Data.OrderID == "" {
			return nil, fmt.Errorf("checkout.expired event missing order_id")
		}
		return CheckoutExpired{OrderID: env.Data.OrderID}, nil
	default:
		return Other{Kind: env.Type}, nil
	}
}

// SignPayload produces the signature header value the gateway would send.
// Exported for tests and local gateway stubs.
func SignPayload(payload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
