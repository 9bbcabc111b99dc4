package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopbridge/acp/vault"
)

// TokenStore is a [vault.Store] backed by acp_payment_tokens.
type TokenStore struct {
	DB *pgxpool.Pool
}

var _ vault.Store = (*TokenStore)(nil)

// NewTokenStore wraps pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{DB: pool}
}

const tokenColumns = `id, token_value, provider, checkout_session_id, merchant_id, max_amount, currency,
expires_at, used, used_at, order_id, metadata, created_at`

// Insert implements [vault.Store].
func (s *TokenStore) Insert(ctx context.Context, t vault.Token) error {
	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := s.DB.Exec(ctx, `
INSERT INTO acp_payment_tokens (`+tokenColumns+`)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9, $10, NULLIF($11, ''), $12, $13)
`, t.ID, t.Value, t.Provider, t.CheckoutSessionID, t.MerchantID, t.MaxAmount, t.Currency,
		t.ExpiresAt, t.Used, t.UsedAt, t.OrderID, metadata, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert token: %w", err)
	}
	return nil
}

// Get implements [vault.Store].
func (s *TokenStore) Get(ctx context.Context, id string) (*vault.Token, error) {
	return s.one(ctx, `SELECT `+tokenColumns+` FROM acp_payment_tokens WHERE id=$1`, id)
}

// FindByValue implements [vault.Store].
func (s *TokenStore) FindByValue(ctx context.Context, value, provider string) (*vault.Token, error) {
	return s.one(ctx, `
SELECT `+tokenColumns+` FROM acp_payment_tokens
WHERE token_value=$1 AND provider=$2
ORDER BY created_at DESC
LIMIT 1
`, value, provider)
}

// Consume implements [vault.Store] as one conditional UPDATE.
func (s *TokenStore) Consume(ctx context.Context, id, orderID string, now time.Time) error {
	tag, err := s.DB.Exec(ctx, `
UPDATE acp_payment_tokens
SET used=true, used_at=$3, order_id=$2
WHERE id=$1 AND used=false AND (expires_at IS NULL OR expires_at > $3)
`, id, orderID, now)
	if err != nil {
		return fmt.Errorf("postgres: consume token: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Used {
		return vault.ErrTokenUsed
	}
	return vault.ErrTokenExpired
}

func (s *TokenStore) one(ctx context.Context, query string, args ...any) (*vault.Token, error) {
	var (
		t                                        vault.Token
		sessionID, merchantID, currency, orderID *string
	)
	err := s.DB.QueryRow(ctx, query, args...).Scan(
		&t.ID, &t.Value, &t.Provider, &sessionID, &merchantID, &t.MaxAmount, &currency,
		&t.ExpiresAt, &t.Used, &t.UsedAt, &orderID, &t.Metadata, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, vault.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: read token: %w", err)
	}
	t.CheckoutSessionID = derefString(sessionID)
	t.MerchantID = derefString(merchantID)
	t.Currency = derefString(currency)
	t.OrderID = derefString(orderID)
	return &t, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
