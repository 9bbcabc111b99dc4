// Package vault registers PSP-issued payment credentials and enforces their
// single use. A token is valid while it is unused and unexpired; consumption
// is a one-way conditional update that binds the consuming order.
package vault

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTokenNotFound = errors.New("vault: token not found")
	ErrTokenUsed     = errors.New("vault: token already used")
	ErrTokenExpired  = errors.New("vault: token expired")
)

// Token is a registered external credential.
type Token struct {
	ID string
	// Value is the opaque credential issued by the PSP.
	Value             string
	Provider          string
	CheckoutSessionID string
	MerchantID        string
	MaxAmount         int
	Currency          string
	// ExpiresAt is nil for tokens without expiry.
	ExpiresAt *time.Time
	Used      bool
	UsedAt    *time.Time
	OrderID   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Expired reports whether the allowance window has closed at now.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// Valid reports whether the token can still be consumed at now.
func (t Token) Valid(now time.Time) bool {
	return !t.Used && !t.Expired(now)
}

// Store persists tokens.
type Store interface {
	Insert(ctx context.Context, token Token) error
	// Get returns ErrTokenNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Token, error)
	// FindByValue returns the most recently registered token for the pair.
	FindByValue(ctx context.Context, value, provider string) (*Token, error)
	// Consume flips used from false to true and binds orderID in one atomic
	// step. It fails with ErrTokenUsed or ErrTokenExpired and never succeeds
	// twice for the same token.
	Consume(ctx context.Context, id, orderID string, now time.Time) error
}
