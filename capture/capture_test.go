package capture

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopbridge/acp/vault"
)

func TestRegistryDispatch(t *testing.T) {
	order := Order{ID: "ord_1", CheckoutSessionID: "cs_1", Amount: 1200, Currency: "usd"}

	tests := map[string]struct {
		registry *Registry
		provider string
		want     Status
	}{
		"stripe stub": {
			registry: DefaultRegistry(),
			provider: "stripe",
			want:     StatusPending,
		},
		"adyen stub": {
			registry: DefaultRegistry(),
			provider: "Adyen",
			want:     StatusPending,
		},
		"paypal without handler": {
			registry: DefaultRegistry(),
			provider: "paypal",
			want:     StatusPending,
		},
		"unknown provider": {
			registry: DefaultRegistry(),
			provider: "klarna",
			want:     StatusPending,
		},
		"empty registry": {
			registry: NewRegistry(),
			provider: "stripe",
			want:     StatusPending,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			res, err := tc.registry.Capture(context.Background(), order, vault.Token{Provider: tc.provider})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Status)
		})
	}
}

func TestRegistryOverride(t *testing.T) {
	r := DefaultRegistry()
	r.Register("paypal", PayPal{HandlerInstalled: true})

	res, err := r.Capture(context.Background(), Order{ID: "ord_9"}, vault.Token{Provider: "PayPal"})
	require.NoError(t, err)
	assert.Equal(t, StatusCaptured, res.Status)
	assert.Equal(t, "paypal_ord_9", res.Reference)

	boom := errors.New("psp unavailable")
	r.Register("stripe", CapturerFunc(func(context.Context, Order, vault.Token) (Result, error) {
		return Result{Status: StatusFailed}, boom
	}))
	res, err = r.Capture(context.Background(), Order{ID: "ord_9"}, vault.Token{Provider: "stripe"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusFailed, res.Status)
}
