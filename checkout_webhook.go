package acp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookEventType enumerates the supported checkout webhook events.
type WebhookEventType string

const (
	WebhookEventTypeOrderCreate WebhookEventType = "order_create"
	WebhookEventTypeOrderUpdate WebhookEventType = "order_update"
)

// EventDataType labels the payload for a webhook event.
type EventDataType string

const (
	EventDataTypeOrder EventDataType = "order"
)

// OrderStatus defines model for webhook data status.
type OrderStatus string

const (
	OrderStatusCreated      OrderStatus = "created"
	OrderStatusManualReview OrderStatus = "manual_review"
	OrderStatusConfirmed    OrderStatus = "confirmed"
	OrderStatusCanceled     OrderStatus = "canceled"
	OrderStatusShipped      OrderStatus = "shipped"
	OrderStatusFulfilled    OrderStatus = "fulfilled"
)

// RefundType captures the source of refunded funds.
type RefundType string

const (
	RefundTypeStoreCredit     RefundType = "store_credit"
	RefundTypeOriginalPayment RefundType = "original_payment"
)

// Refund describes a refund emitted in webhook events.
type Refund struct {
	Type   RefundType `json:"type"`
	Amount int        `json:"amount"`
}

// EventData is implemented by webhook payloads.
type EventData interface {
	eventType() WebhookEventType
	sessionID() string
}

// OrderCreate emits order data after the order is created.
type OrderCreate struct {
	Type              EventDataType `json:"type"`
	CheckoutSessionID string        `json:"checkout_session_id"`
	PermalinkURL      string        `json:"permalink_url"`
	Status            OrderStatus   `json:"status"`
	Refunds           []Refund      `json:"refunds"`
}

func (OrderCreate) eventType() WebhookEventType { return WebhookEventTypeOrderCreate }
func (e OrderCreate) sessionID() string         { return e.CheckoutSessionID }

// OrderUpdate emits order data whenever the order status changes.
type OrderUpdate struct {
	Type              EventDataType `json:"type"`
	CheckoutSessionID string        `json:"checkout_session_id"`
	PermalinkURL      string        `json:"permalink_url"`
	Status            OrderStatus   `json:"status"`
	Refunds           []Refund      `json:"refunds"`
}

func (OrderUpdate) eventType() WebhookEventType { return WebhookEventTypeOrderUpdate }
func (e OrderUpdate) sessionID() string         { return e.CheckoutSessionID }

type webhookEvent struct {
	Type WebhookEventType `json:"type"`
	Data any              `json:"data"`
}

// WebhookOptions configures outbound webhook delivery.
type WebhookOptions struct {
	// Endpoint receiving the POSTed events.
	Endpoint string
	// HeaderName carries the signature. Defaults to Merchant-Signature.
	HeaderName string
	// SecretKey is the shared HMAC key.
	SecretKey []byte
	// Client defaults to an http.Client with a 10s timeout.
	Client *http.Client
	Clock  func() time.Time
}

// WebhookSender posts signed order events. Each call is a single attempt;
// retrying is left to the caller.
type WebhookSender struct {
	endpoint string
	header   string
	secret   []byte
	client   *http.Client
	clock    func() time.Time
}

// NewWebhookSender validates opts and builds a [WebhookSender].
func NewWebhookSender(opts WebhookOptions) (*WebhookSender, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("webhook: endpoint is required")
	}
	if len(opts.SecretKey) == 0 {
		return nil, errors.New("webhook: secret key is required")
	}
	s := &WebhookSender{
		endpoint: opts.Endpoint,
		header:   opts.HeaderName,
		secret:   opts.SecretKey,
		client:   opts.Client,
		clock:    opts.Clock,
	}
	if s.header == "" {
		s.header = "Merchant-Signature"
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 10 * time.Second}
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s, nil
}

// Send posts data to the configured endpoint. The body is signed with
// HMAC-SHA256, and Request-Id carries the checkout session id for correlation.
func (s *WebhookSender) Send(ctx context.Context, data EventData) error {
	if s == nil {
		return errors.New("webhook: sender is not configured")
	}
	if data == nil {
		return errors.New("webhook: event data is required")
	}
	body, err := json.Marshal(webhookEvent{
		Type: data.eventType(),
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Version", APIVersion)
	req.Header.Set("Request-Id", data.sessionID())
	req.Header.Set("Timestamp", s.clock().UTC().Format(time.RFC3339))
	req.Header.Set(s.header, signWebhookPayload(s.secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook: endpoint %s returned %s: %s", s.endpoint, resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func signWebhookPayload(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
