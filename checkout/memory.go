package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopbridge/acp"
)

// MemoryStore is a process-local [SessionStore].
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Create implements [SessionStore].
func (s *MemoryStore) Create(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("checkout: session %s already exists", session.ID)
	}
	stored := cloneRecord(session)
	stored.Version = 1
	s.sessions[session.ID] = stored
	session.Version = 1
	return nil
}

// Get implements [SessionStore].
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneRecord(stored), nil
}

// Update implements [SessionStore].
func (s *MemoryStore) Update(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.mutable(session.ID)
	if err != nil {
		return err
	}
	if stored.Version != session.Version {
		return ErrVersionConflict
	}
	next := cloneRecord(session)
	next.Version = stored.Version + 1
	next.CreatedAt = stored.CreatedAt
	s.sessions[session.ID] = next
	session.Version = next.Version
	return nil
}

// ClaimCompletion implements [SessionStore].
func (s *MemoryStore) ClaimCompletion(_ context.Context, id, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	switch {
	case !ok:
		return "", ErrSessionNotFound
	case stored.Status().Terminal():
		return stored.CompletionToken, ErrSessionClosed
	case stored.CompletionToken != "":
		return stored.CompletionToken, ErrCompletionClaimed
	}
	stored.CompletionToken = token
	stored.Version++
	return token, nil
}

// ReleaseClaim implements [SessionStore].
func (s *MemoryStore) ReleaseClaim(_ context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if stored.CompletionToken == token && !stored.Status().Terminal() {
		stored.CompletionToken = ""
		stored.Version++
	}
	return nil
}

// Complete implements [SessionStore].
func (s *MemoryStore) Complete(_ context.Context, id, token string, c Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	switch {
	case !ok:
		return ErrSessionNotFound
	case stored.Status().Terminal():
		return ErrSessionClosed
	case stored.CompletionToken != token:
		return ErrCompletionClaimed
	}
	stored.Snapshot = cloneSession(c.Snapshot)
	stored.OrderID = c.OrderID
	stored.PermalinkURL = c.PermalinkURL
	stored.PaymentStatus = c.PaymentStatus
	stored.UpdatedAt = c.CompletedAt
	stored.Version++
	return nil
}

// Cancel implements [SessionStore].
func (s *MemoryStore) Cancel(_ context.Context, id string, version int64, snapshot acp.CheckoutSession, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.mutable(id)
	if err != nil {
		return err
	}
	if stored.Version != version {
		return ErrVersionConflict
	}
	stored.Snapshot = cloneSession(snapshot)
	stored.UpdatedAt = at
	stored.Version++
	return nil
}

func (s *MemoryStore) mutable(id string) (*Session, error) {
	stored, ok := s.sessions[id]
	switch {
	case !ok:
		return nil, ErrSessionNotFound
	case stored.Status().Terminal():
		return nil, ErrSessionClosed
	case stored.CompletionToken != "":
		return nil, ErrCompletionClaimed
	}
	return stored, nil
}
