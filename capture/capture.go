// Package capture dispatches payment capture by provider tag.
//
// Order persistence and capture are decoupled: a pending or failed capture
// never undoes the order it was attempted for.
package capture

import (
	"context"
	"strings"
	"sync"

	"github.com/shopbridge/acp/vault"
)

// Status is the outcome of a capture attempt.
type Status string

const (
	StatusCaptured Status = "captured"
	StatusPending  Status = "pending"
	StatusFailed   Status = "failed"
)

// Order is the persisted order a capture is attempted for.
type Order struct {
	ID                string
	CheckoutSessionID string
	Amount            int
	Currency          string
	PaymentMethodID   string
}

// Result reports what the provider did with the charge.
type Result struct {
	Status    Status
	Reference string
}

// Capturer charges an order against a vault token.
type Capturer interface {
	Capture(ctx context.Context, order Order, token vault.Token) (Result, error)
}

// CapturerFunc adapts a function to [Capturer].
type CapturerFunc func(ctx context.Context, order Order, token vault.Token) (Result, error)

// Capture implements [Capturer].
func (f CapturerFunc) Capture(ctx context.Context, order Order, token vault.Token) (Result, error) {
	return f(ctx, order, token)
}

// Pending is the capturer used for providers without a registered handler.
var Pending Capturer = CapturerFunc(func(context.Context, Order, vault.Token) (Result, error) {
	return Result{Status: StatusPending}, nil
})

// Registry maps provider tags to capturers.
type Registry struct {
	mu        sync.RWMutex
	capturers map[string]Capturer
}

// NewRegistry returns an empty registry; every provider resolves to [Pending]
// until registered.
func NewRegistry() *Registry {
	return &Registry{capturers: make(map[string]Capturer)}
}

// DefaultRegistry registers the built-in provider handlers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("paypal", PayPal{})
	r.Register("stripe", Stripe{})
	r.Register("adyen", Adyen{})
	return r
}

// Register binds provider to c, replacing any previous binding.
func (r *Registry) Register(provider string, c Capturer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capturers[normalize(provider)] = c
}

// Lookup returns the capturer for provider, or [Pending].
func (r *Registry) Lookup(provider string) Capturer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.capturers[normalize(provider)]; ok {
		return c
	}
	return Pending
}

// Capture dispatches on the token's provider.
func (r *Registry) Capture(ctx context.Context, order Order, token vault.Token) (Result, error) {
	return r.Lookup(token.Provider).Capture(ctx, order, token)
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
