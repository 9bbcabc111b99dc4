package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopbridge/acp/idempotency"
)

// IdempotencyStore is an [idempotency.Store] whose key uniqueness comes from
// the table's primary key.
type IdempotencyStore struct {
	DB  *pgxpool.Pool
	now func() time.Time
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// NewIdempotencyStore wraps pool.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{DB: pool, now: time.Now}
}

// Lookup implements [idempotency.Store].
func (s *IdempotencyStore) Lookup(ctx context.Context, key string) (*idempotency.Record, error) {
	rec, err := scanIdempotencyRecord(s.DB.QueryRow(ctx, `
SELECT idempotency_key, request_hash, status_code, content_type, response_body, created_at, expires_at
FROM acp_idempotency_keys
WHERE idempotency_key=$1 AND expires_at > $2
`, key, s.now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, idempotency.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: lookup idempotency key: %w", err)
	}
	return rec, nil
}

// Begin implements [idempotency.Store]. The insert and the follow-up read run
// in one transaction; a concurrent first writer blocks on the primary key
// until the winner commits and then reads the winner's row.
func (s *IdempotencyStore) Begin(ctx context.Context, key, requestHash string, ttl time.Duration) (idempotency.BeginResult, error) {
	now := s.now()
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return idempotency.BeginResult{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM acp_idempotency_keys WHERE idempotency_key=$1 AND expires_at <= $2`, key, now); err != nil {
		return idempotency.BeginResult{}, fmt.Errorf("postgres: drop expired key: %w", err)
	}
	tag, err := tx.Exec(ctx, `
INSERT INTO acp_idempotency_keys (idempotency_key, request_hash, created_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (idempotency_key) DO NOTHING
`, key, requestHash, now, now.Add(ttl))
	if err != nil {
		return idempotency.BeginResult{}, fmt.Errorf("postgres: reserve key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		if err := tx.Commit(ctx); err != nil {
			return idempotency.BeginResult{}, fmt.Errorf("postgres: commit reservation: %w", err)
		}
		return idempotency.BeginResult{State: idempotency.StateNew}, nil
	}

	rec, err := scanIdempotencyRecord(tx.QueryRow(ctx, `
SELECT idempotency_key, request_hash, status_code, content_type, response_body, created_at, expires_at
FROM acp_idempotency_keys
WHERE idempotency_key=$1
`, key))
	if err != nil {
		return idempotency.BeginResult{}, fmt.Errorf("postgres: read existing key: %w", err)
	}
	switch {
	case rec.RequestHash != requestHash:
		return idempotency.BeginResult{State: idempotency.StateConflict}, nil
	case rec.Pending():
		return idempotency.BeginResult{State: idempotency.StateInProgress}, nil
	}
	return idempotency.BeginResult{State: idempotency.StateReplay, Cached: rec.Response}, nil
}

// Save implements [idempotency.Store].
func (s *IdempotencyStore) Save(ctx context.Context, key, requestHash string, resp idempotency.Response, ttl time.Duration) error {
	tag, err := s.DB.Exec(ctx, `
UPDATE acp_idempotency_keys
SET status_code=$3, content_type=$4, response_body=$5, expires_at=created_at + ($6::bigint * interval '1 millisecond')
WHERE idempotency_key=$1 AND request_hash=$2 AND expires_at > $7
`, key, requestHash, resp.StatusCode, resp.ContentType, resp.Body, ttl.Milliseconds(), s.now())
	if err != nil {
		return fmt.Errorf("postgres: save idempotent response: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Lookup(ctx, key); err != nil {
		return err
	}
	return idempotency.ErrHashMismatch
}

// Release implements [idempotency.Store].
func (s *IdempotencyStore) Release(ctx context.Context, key, requestHash string) error {
	_, err := s.DB.Exec(ctx, `
DELETE FROM acp_idempotency_keys
WHERE idempotency_key=$1 AND request_hash=$2 AND status_code IS NULL
`, key, requestHash)
	if err != nil {
		return fmt.Errorf("postgres: release idempotency key: %w", err)
	}
	return nil
}

// PurgeExpired implements [idempotency.Store].
func (s *IdempotencyStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.DB.Exec(ctx, `DELETE FROM acp_idempotency_keys WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanIdempotencyRecord(row pgx.Row) (*idempotency.Record, error) {
	var (
		rec         idempotency.Record
		statusCode  *int32
		contentType *string
		body        []byte
	)
	if err := row.Scan(&rec.Key, &rec.RequestHash, &statusCode, &contentType, &body, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
		return nil, err
	}
	if statusCode != nil {
		rec.Response = &idempotency.Response{StatusCode: int(*statusCode), Body: body}
		if contentType != nil {
			rec.Response.ContentType = *contentType
		}
	}
	return &rec, nil
}
