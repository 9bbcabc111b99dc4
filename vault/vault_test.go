package vault

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopbridge/acp"
)

var baseTime = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestVault(now *time.Time) (*Vault, *MemoryStore) {
	store := NewMemoryStore()
	v := New(Config{
		Store: store,
		Clock: func() time.Time { return *now },
	})
	return v, store
}

func paymentRequest(sessionID string, expires time.Time) acp.PaymentRequest {
	return acp.PaymentRequest{
		PaymentMethod: acp.PaymentMethodCard{
			Type:     acp.PaymentMethodCardTypeCard,
			Number:   "pm_card_visa",
			Metadata: map[string]string{"provider": "Stripe"},
		},
		Allowance: acp.Allowance{
			Reason:            acp.AllowanceReasonOneTime,
			MaxAmount:         10000,
			Currency:          "USD",
			CheckoutSessionID: sessionID,
			MerchantID:        "merchant_123",
			ExpiresAt:         expires,
		},
		Metadata: map[string]string{"campaign": "fall"},
		RiskSignals: []acp.RiskSignal{
			{Type: acp.RiskSignalTypeCardTesting, Action: acp.RiskSignalActionAuthorized},
		},
	}
}

func TestDelegatePayment(t *testing.T) {
	now := baseTime
	v, store := newTestVault(&now)

	resp, err := v.DelegatePayment(context.Background(), paymentRequest("cs_1", baseTime.Add(time.Hour)))
	require.NoError(t, err)
	assert.Regexp(t, `^vt_[0-9a-f-]{36}$`, resp.ID)
	assert.Equal(t, baseTime, resp.Created)
	assert.Equal(t, map[string]string{
		"campaign":    "fall",
		"source":      DefaultSource,
		"merchant_id": "merchant_123",
	}, resp.Metadata)

	token, err := store.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "pm_card_visa", token.Value)
	assert.Equal(t, "stripe", token.Provider)
	assert.Equal(t, "cs_1", token.CheckoutSessionID)
	assert.Equal(t, "usd", token.Currency)
	assert.False(t, token.Used)
}

func TestDelegatePaymentKeepsCallerSource(t *testing.T) {
	now := baseTime
	v, _ := newTestVault(&now)

	req := paymentRequest("cs_1", baseTime.Add(time.Hour))
	req.Metadata = map[string]string{"source": "mobile"}
	req.PaymentMethod.Metadata = nil

	resp, err := v.DelegatePayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "mobile", resp.Metadata["source"])

	validation, err := v.ValidateToken(context.Background(), "pm_card_visa", DefaultProvider)
	require.NoError(t, err)
	assert.Equal(t, DefaultProvider, validation.Provider)
}

func TestDelegatePaymentDuplicateCredentialsAreIndependent(t *testing.T) {
	now := baseTime
	v, _ := newTestVault(&now)
	ctx := context.Background()

	first, err := v.DelegatePayment(ctx, paymentRequest("cs_1", baseTime.Add(time.Hour)))
	require.NoError(t, err)
	second, err := v.DelegatePayment(ctx, paymentRequest("cs_1", baseTime.Add(time.Hour)))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	require.NoError(t, v.Consume(ctx, first.ID, "ord_1"))
	require.NoError(t, v.Consume(ctx, second.ID, "ord_2"))
}

func TestValidateToken(t *testing.T) {
	ctx := context.Background()
	expiresAt := baseTime.Add(time.Hour)

	tests := map[string]struct {
		advance   time.Duration
		consume   bool
		wantValid bool
		wantUsed  bool
	}{
		"fresh": {
			wantValid: true,
		},
		"consumed": {
			consume:  true,
			wantUsed: true,
		},
		"expired": {
			advance: 2 * time.Hour,
		},
		"expiry boundary is exclusive": {
			advance: time.Hour,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			now := baseTime
			v, _ := newTestVault(&now)
			resp, err := v.DelegatePayment(ctx, paymentRequest("cs_1", expiresAt))
			require.NoError(t, err)
			if tc.consume {
				require.NoError(t, v.Consume(ctx, resp.ID, "ord_1"))
			}
			now = now.Add(tc.advance)

			got, err := v.ValidateToken(ctx, "pm_card_visa", "stripe")
			require.NoError(t, err)
			assert.Equal(t, tc.wantValid, got.Valid)
			assert.Equal(t, tc.wantUsed, got.Used)
			assert.Equal(t, "stripe", got.Provider)
			require.NotNil(t, got.ExpiresAt)
			assert.True(t, got.ExpiresAt.Equal(expiresAt))
		})
	}
}

func TestValidateTokenByID(t *testing.T) {
	now := baseTime
	v, _ := newTestVault(&now)
	ctx := context.Background()

	resp, err := v.DelegatePayment(ctx, paymentRequest("cs_1", baseTime.Add(time.Hour)))
	require.NoError(t, err)

	got, err := v.ValidateToken(ctx, resp.ID, "stripe")
	require.NoError(t, err)
	assert.True(t, got.Valid)

	_, err = v.ValidateToken(ctx, resp.ID, "adyen")
	assertNotFound(t, err)
}

func TestValidateTokenProviderCase(t *testing.T) {
	now := baseTime
	v, _ := newTestVault(&now)
	ctx := context.Background()

	resp, err := v.DelegatePayment(ctx, paymentRequest("cs_1", baseTime.Add(time.Hour)))
	require.NoError(t, err)

	for _, provider := range []string{"Stripe", " STRIPE "} {
		got, err := v.ValidateToken(ctx, "pm_card_visa", provider)
		require.NoError(t, err, provider)
		assert.Equal(t, "stripe", got.Provider)

		got, err = v.ValidateToken(ctx, resp.ID, provider)
		require.NoError(t, err, provider)
		assert.True(t, got.Valid)
	}
}

func TestValidateTokenUnknown(t *testing.T) {
	now := baseTime
	v, _ := newTestVault(&now)

	_, err := v.ValidateToken(context.Background(), "pm_unknown", "stripe")
	assertNotFound(t, err)
}

func assertNotFound(t *testing.T, err error) {
	t.Helper()
	var acpErr *acp.Error
	require.ErrorAs(t, err, &acpErr)
	assert.Equal(t, acp.TokenNotFound, acpErr.Code)
	assert.Equal(t, http.StatusNotFound, acpErr.StatusCode())
}

func TestConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("once", func(t *testing.T) {
		now := baseTime
		v, store := newTestVault(&now)
		resp, err := v.DelegatePayment(ctx, paymentRequest("cs_1", baseTime.Add(time.Hour)))
		require.NoError(t, err)

		require.NoError(t, v.Consume(ctx, resp.ID, "ord_1"))
		assert.ErrorIs(t, v.Consume(ctx, resp.ID, "ord_2"), ErrTokenUsed)

		token, err := store.Get(ctx, resp.ID)
		require.NoError(t, err)
		assert.True(t, token.Used)
		assert.Equal(t, "ord_1", token.OrderID)
		require.NotNil(t, token.UsedAt)
		assert.Equal(t, baseTime, *token.UsedAt)
	})

	t.Run("expired", func(t *testing.T) {
		now := baseTime
		v, _ := newTestVault(&now)
		resp, err := v.DelegatePayment(ctx, paymentRequest("cs_1", baseTime.Add(time.Minute)))
		require.NoError(t, err)

		now = now.Add(time.Minute)
		assert.ErrorIs(t, v.Consume(ctx, resp.ID, "ord_1"), ErrTokenExpired)
	})

	t.Run("unknown", func(t *testing.T) {
		now := baseTime
		v, _ := newTestVault(&now)
		_, err := v.Resolve(ctx, "vt_missing")
		assert.ErrorIs(t, err, ErrTokenNotFound)
		assert.ErrorIs(t, v.Consume(ctx, "vt_missing", "ord_1"), ErrTokenNotFound)
	})

	t.Run("concurrent", func(t *testing.T) {
		now := baseTime
		v, _ := newTestVault(&now)
		resp, err := v.DelegatePayment(ctx, paymentRequest("cs_1", baseTime.Add(time.Hour)))
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := v.Consume(ctx, resp.ID, "ord")
				switch {
				case err == nil:
					wins.Add(1)
				case !errors.Is(err, ErrTokenUsed):
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}
