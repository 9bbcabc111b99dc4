package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopbridge/acp"
	"github.com/shopbridge/acp/capture"
	"github.com/shopbridge/acp/checkout"
)

// SessionStore is a [checkout.SessionStore] backed by acp_checkout_sessions.
// Every transition is a single conditional UPDATE; when it matches no row the
// current state is read back to pick the error.
type SessionStore struct {
	DB *pgxpool.Pool
}

var _ checkout.SessionStore = (*SessionStore)(nil)

// NewSessionStore wraps pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{DB: pool}
}

const mutableSession = `status NOT IN ('completed', 'canceled')`

// Create implements [checkout.SessionStore].
func (s *SessionStore) Create(ctx context.Context, session *checkout.Session) error {
	snapshot, err := json.Marshal(session.Snapshot)
	if err != nil {
		return fmt.Errorf("postgres: marshal session: %w", err)
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO acp_checkout_sessions (id, status, snapshot, customer_id, customer_country, version, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), 1, $6, $7)
`, session.ID, string(session.Status()), snapshot, session.CustomerID, session.CustomerCountry, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert session: %w", err)
	}
	session.Version = 1
	return nil
}

// Get implements [checkout.SessionStore].
func (s *SessionStore) Get(ctx context.Context, id string) (*checkout.Session, error) {
	var (
		session                                                           checkout.Session
		snapshot                                                          []byte
		customerID, country, orderID, permalink, payment, completionToken *string
	)
	err := s.DB.QueryRow(ctx, `
SELECT id, snapshot, customer_id, customer_country, order_id, permalink_url, payment_status,
       completion_token, version, created_at, updated_at
FROM acp_checkout_sessions
WHERE id=$1
`, id).Scan(&session.ID, &snapshot, &customerID, &country, &orderID, &permalink, &payment,
		&completionToken, &session.Version, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, checkout.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: read session: %w", err)
	}
	if err := json.Unmarshal(snapshot, &session.Snapshot); err != nil {
		return nil, fmt.Errorf("postgres: decode session %s: %w", id, err)
	}
	session.CustomerID = derefString(customerID)
	session.CustomerCountry = derefString(country)
	session.OrderID = derefString(orderID)
	session.PermalinkURL = derefString(permalink)
	session.PaymentStatus = capture.Status(derefString(payment))
	session.CompletionToken = derefString(completionToken)
	return &session, nil
}

// Update implements [checkout.SessionStore].
func (s *SessionStore) Update(ctx context.Context, session *checkout.Session) error {
	snapshot, err := json.Marshal(session.Snapshot)
	if err != nil {
		return fmt.Errorf("postgres: marshal session: %w", err)
	}
	var version int64
	err = s.DB.QueryRow(ctx, `
UPDATE acp_checkout_sessions
SET status=$3, snapshot=$4, customer_id=NULLIF($5, ''), customer_country=NULLIF($6, ''),
    updated_at=$7, version=version+1
WHERE id=$1 AND version=$2 AND completion_token IS NULL AND `+mutableSession+`
RETURNING version
`, session.ID, session.Version, string(session.Status()), snapshot, session.CustomerID,
		session.CustomerCountry, session.UpdatedAt).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.rejection(ctx, session.ID)
	}
	if err != nil {
		return fmt.Errorf("postgres: update session: %w", err)
	}
	session.Version = version
	return nil
}

// ClaimCompletion implements [checkout.SessionStore].
func (s *SessionStore) ClaimCompletion(ctx context.Context, id, token string) (string, error) {
	tag, err := s.DB.Exec(ctx, `
UPDATE acp_checkout_sessions
SET completion_token=$2, version=version+1
WHERE id=$1 AND completion_token IS NULL AND `+mutableSession, id, token)
	if err != nil {
		return "", fmt.Errorf("postgres: claim session: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return token, nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if current.Status().Terminal() {
		return current.CompletionToken, checkout.ErrSessionClosed
	}
	return current.CompletionToken, checkout.ErrCompletionClaimed
}

// ReleaseClaim implements [checkout.SessionStore].
func (s *SessionStore) ReleaseClaim(ctx context.Context, id, token string) error {
	_, err := s.DB.Exec(ctx, `
UPDATE acp_checkout_sessions
SET completion_token=NULL, version=version+1
WHERE id=$1 AND completion_token=$2 AND `+mutableSession, id, token)
	if err != nil {
		return fmt.Errorf("postgres: release session claim: %w", err)
	}
	return nil
}

// Complete implements [checkout.SessionStore].
func (s *SessionStore) Complete(ctx context.Context, id, token string, c checkout.Completion) error {
	snapshot, err := json.Marshal(c.Snapshot)
	if err != nil {
		return fmt.Errorf("postgres: marshal session: %w", err)
	}
	tag, err := s.DB.Exec(ctx, `
UPDATE acp_checkout_sessions
SET status=$3, snapshot=$4, order_id=$5, permalink_url=$6, payment_status=$7, updated_at=$8, version=version+1
WHERE id=$1 AND completion_token=$2 AND `+mutableSession,
		id, token, string(acp.CheckoutSessionStatusCompleted), snapshot, c.OrderID, c.PermalinkURL,
		string(c.PaymentStatus), c.CompletedAt)
	if err != nil {
		return fmt.Errorf("postgres: complete session: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.rejection(ctx, id)
}

// Cancel implements [checkout.SessionStore].
func (s *SessionStore) Cancel(ctx context.Context, id string, version int64, snapshot acp.CheckoutSession, at time.Time) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("postgres: marshal session: %w", err)
	}
	tag, err := s.DB.Exec(ctx, `
UPDATE acp_checkout_sessions
SET status=$2, snapshot=$3, updated_at=$4, version=version+1
WHERE id=$1 AND version=$5 AND completion_token IS NULL AND `+mutableSession,
		id, string(acp.CheckoutSessionStatusCanceled), body, at, version)
	if err != nil {
		return fmt.Errorf("postgres: cancel session: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.rejection(ctx, id)
}

// rejection explains why a conditional write matched no row.
func (s *SessionStore) rejection(ctx context.Context, id string) error {
	current, err := s.Get(ctx, id)
	switch {
	case err != nil:
		return err
	case current.Status().Terminal():
		return checkout.ErrSessionClosed
	case current.CompletionToken != "":
		return checkout.ErrCompletionClaimed
	}
	return checkout.ErrVersionConflict
}
