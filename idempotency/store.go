// Package idempotency persists responses of mutating requests keyed by the
// client's Idempotency-Key so retries replay instead of re-executing.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	canonicaljson "github.com/gibson042/canonicaljson-go"

	"github.com/shopbridge/acp/signature"
)

const (
	// DefaultTTL is how long a completed record is replayable.
	DefaultTTL = 24 * time.Hour
	// DefaultLease is how long a pending reservation holds its key when the
	// first execution never saves or releases it.
	DefaultLease = time.Minute
)

// State is the outcome of [Store.Begin].
type State string

const (
	// StateNew means the caller won the key and must execute the request.
	StateNew State = "new"
	// StateReplay means a completed response with the same hash exists.
	StateReplay State = "replay"
	// StateConflict means the key was used with a different request hash.
	StateConflict State = "conflict"
	// StateInProgress means another caller holds the key and has not finished.
	StateInProgress State = "in_progress"
)

var (
	ErrNotFound     = errors.New("idempotency: record not found")
	ErrHashMismatch = errors.New("idempotency: request hash mismatch")
)

// Response is the captured HTTP response of the first execution.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Record is a stored key. Response is nil while the first execution runs.
type Record struct {
	Key         string
	RequestHash string
	Response    *Response
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Pending reports whether the record is a reservation without a response.
func (r Record) Pending() bool { return r.Response == nil }

// BeginResult carries the state plus the cached response on replay.
type BeginResult struct {
	State  State
	Cached *Response
}

// Store must enforce key uniqueness itself: Begin is the single atomic
// insert-if-absent, so two concurrent first callers cannot both see StateNew.
type Store interface {
	// Lookup returns the live record for key or ErrNotFound.
	Lookup(ctx context.Context, key string) (*Record, error)
	// Begin reserves key for requestHash for ttl or reports what already
	// holds it.
	Begin(ctx context.Context, key, requestHash string, ttl time.Duration) (BeginResult, error)
	// Save attaches the response to a reservation made by Begin and keeps
	// the record for ttl from its creation.
	Save(ctx context.Context, key, requestHash string, resp Response, ttl time.Duration) error
	// Release drops a pending reservation so the client may retry.
	Release(ctx context.Context, key, requestHash string) error
	// PurgeExpired deletes records whose expiry is at or before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type fingerprint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query"`
	Body   string `json:"body"`
}

// RequestHash digests {method, path, query, body}. JSON bodies are
// canonicalized first so key order and whitespace do not cause conflicts.
func RequestHash(method, path, query string, body []byte) (string, error) {
	normalized := string(body)
	if canonical, err := signature.CanonicalizeJSONBody(body); err == nil {
		normalized = string(canonical)
	}
	payload, err := canonicaljson.Marshal(fingerprint{
		Method: method,
		Path:   path,
		Query:  query,
		Body:   normalized,
	})
	if err != nil {
		return "", fmt.Errorf("idempotency: marshal fingerprint: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
