package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/shopbridge/acp"
	"github.com/shopbridge/acp/capture"
)

var (
	ErrSessionNotFound   = errors.New("checkout: session not found")
	ErrSessionClosed     = errors.New("checkout: session is completed or canceled")
	ErrCompletionClaimed = errors.New("checkout: completion already in progress")
	ErrVersionConflict   = errors.New("checkout: session was modified concurrently")
)

// Session is the persisted checkout session. Snapshot is the rendered
// protocol view; everything else is merchant-side bookkeeping.
type Session struct {
	ID              string
	Snapshot        acp.CheckoutSession
	CustomerID      string
	CustomerCountry string
	OrderID         string
	PermalinkURL    string
	PaymentStatus   capture.Status
	// CompletionToken is the vault token id holding the completion claim.
	CompletionToken string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Status is the session's protocol status.
func (s *Session) Status() acp.CheckoutSessionStatus {
	return s.Snapshot.Status
}

// Completion is written when a claimed session produces an order.
type Completion struct {
	OrderID       string
	PermalinkURL  string
	PaymentStatus capture.Status
	Snapshot      acp.CheckoutSession
	CompletedAt   time.Time
}

// SessionStore persists sessions. Every transition is a conditional write so
// concurrent callers cannot both move a session out of a mutable state.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	// Get returns ErrSessionNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Session, error)
	// Update replaces the session when the stored version equals
	// session.Version and bumps the version. It fails with ErrSessionClosed
	// for terminal sessions, ErrCompletionClaimed while a completion holds the
	// session and ErrVersionConflict for stale writes.
	Update(ctx context.Context, session *Session) error
	// ClaimCompletion reserves the session for completion with token. When
	// another completion holds it, the holder's token id is returned with
	// ErrCompletionClaimed.
	ClaimCompletion(ctx context.Context, id, token string) (holder string, err error)
	// ReleaseClaim drops a claim held by token.
	ReleaseClaim(ctx context.Context, id, token string) error
	// Complete marks the session completed. The claim must be held by token.
	Complete(ctx context.Context, id, token string, c Completion) error
	// Cancel marks a mutable, unclaimed session canceled when the stored
	// version equals version. Failures match Update.
	Cancel(ctx context.Context, id string, version int64, snapshot acp.CheckoutSession, at time.Time) error
}
