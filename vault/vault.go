package vault

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopbridge/acp"
)

const (
	// DefaultProvider is assumed when payment_method.metadata omits "provider".
	DefaultProvider = "stripe"
	// DefaultSource tags every registration response.
	DefaultSource = "agent_checkout"

	tokenPrefix = "vt_"
)

// Config wires a [Vault].
type Config struct {
	Store           Store
	Logger          *zap.Logger
	Clock           func() time.Time
	DefaultProvider string
	Source          string
}

// Vault implements [acp.DelegatedPaymentProvider] on top of a [Store] and
// exposes the resolution and consumption steps used by checkout completion.
type Vault struct {
	store           Store
	logger          *zap.Logger
	now             func() time.Time
	defaultProvider string
	source          string
}

var _ acp.DelegatedPaymentProvider = (*Vault)(nil)

// New returns a Vault. A nil store falls back to a [MemoryStore].
func New(cfg Config) *Vault {
	v := &Vault{
		store:           cfg.Store,
		logger:          cfg.Logger,
		now:             cfg.Clock,
		defaultProvider: cfg.DefaultProvider,
		source:          cfg.Source,
	}
	if v.store == nil {
		v.store = NewMemoryStore()
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.defaultProvider == "" {
		v.defaultProvider = DefaultProvider
	}
	if v.source == "" {
		v.source = DefaultSource
	}
	return v
}

// DelegatePayment registers the credential and returns the vault token.
// Registering the same credential twice yields two independent tokens.
func (v *Vault) DelegatePayment(ctx context.Context, req acp.PaymentRequest) (*acp.VaultToken, error) {
	now := v.now().UTC()
	expiresAt := req.Allowance.ExpiresAt.UTC()
	token := Token{
		ID:                tokenPrefix + uuid.NewString(),
		Value:             req.PaymentMethod.Number,
		Provider:          v.providerOf(req.PaymentMethod),
		CheckoutSessionID: req.Allowance.CheckoutSessionID,
		MerchantID:        req.Allowance.MerchantID,
		MaxAmount:         req.Allowance.MaxAmount,
		Currency:          strings.ToLower(req.Allowance.Currency),
		ExpiresAt:         &expiresAt,
		Metadata:          maps.Clone(req.Metadata),
		CreatedAt:         now,
	}
	if err := v.store.Insert(ctx, token); err != nil {
		v.logger.Error("vault token insert failed", zap.Error(err))
		return nil, acp.NewProcessingError("unable to store payment credential")
	}
	v.logger.Info("vault token registered",
		zap.String("token_id", token.ID),
		zap.String("provider", token.Provider),
		zap.String("checkout_session_id", token.CheckoutSessionID),
	)

	metadata := maps.Clone(req.Metadata)
	if metadata == nil {
		metadata = make(map[string]string, 2)
	}
	if _, ok := metadata["source"]; !ok {
		metadata["source"] = v.source
	}
	metadata["merchant_id"] = token.MerchantID

	return &acp.VaultToken{
		ID:       token.ID,
		Created:  now,
		Metadata: metadata,
	}, nil
}

// ValidateToken reports the state of a credential. token may be either the
// PSP value or the vt_ identifier.
func (v *Vault) ValidateToken(ctx context.Context, token, provider string) (*acp.TokenValidation, error) {
	found, err := v.lookup(ctx, token, provider)
	if err != nil {
		return nil, err
	}
	return &acp.TokenValidation{
		Valid:     found.Valid(v.now()),
		Used:      found.Used,
		ExpiresAt: found.ExpiresAt,
		Provider:  found.Provider,
	}, nil
}

func (v *Vault) lookup(ctx context.Context, token, provider string) (*Token, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	found, err := v.store.FindByValue(ctx, token, provider)
	if errors.Is(err, ErrTokenNotFound) && strings.HasPrefix(token, tokenPrefix) {
		found, err = v.store.Get(ctx, token)
		if err == nil && found.Provider != provider {
			err = ErrTokenNotFound
		}
	}
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return nil, acp.NewNotFoundError(acp.TokenNotFound, "payment token not found", acp.WithOffendingParam("$.token"))
	case err != nil:
		v.logger.Error("vault token lookup failed", zap.Error(err))
		return nil, acp.NewProcessingError("unable to look up payment token")
	}
	return found, nil
}

// Resolve returns the token registered under id. Store failures are returned
// as-is so callers can tell ErrTokenNotFound apart from outages.
func (v *Vault) Resolve(ctx context.Context, id string) (*Token, error) {
	return v.store.Get(ctx, id)
}

// Consume marks the token used by orderID at the vault clock's now.
func (v *Vault) Consume(ctx context.Context, id, orderID string) error {
	if err := v.store.Consume(ctx, id, orderID, v.now().UTC()); err != nil {
		return err
	}
	v.logger.Info("vault token consumed", zap.String("token_id", id), zap.String("order_id", orderID))
	return nil
}

func (v *Vault) providerOf(card acp.PaymentMethodCard) string {
	if p := strings.TrimSpace(card.Metadata["provider"]); p != "" {
		return strings.ToLower(p)
	}
	return v.defaultProvider
}
