package vault

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

// MemoryStore is a process-local [Store].
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]*Token
	order  []string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]*Token)}
}

// Insert implements [Store].
func (s *MemoryStore) Insert(_ context.Context, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.ID]; ok {
		return fmt.Errorf("vault: token %s already exists", token.ID)
	}
	s.tokens[token.ID] = cloneToken(&token)
	s.order = append(s.order, token.ID)
	return nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, id string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return cloneToken(token), nil
}

// FindByValue implements [Store].
func (s *MemoryStore) FindByValue(_ context.Context, value, provider string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		token := s.tokens[s.order[i]]
		if token.Value == value && token.Provider == provider {
			return cloneToken(token), nil
		}
	}
	return nil, ErrTokenNotFound
}

// Consume implements [Store].
func (s *MemoryStore) Consume(_ context.Context, id, orderID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	switch {
	case !ok:
		return ErrTokenNotFound
	case token.Used:
		return ErrTokenUsed
	case token.Expired(now):
		return ErrTokenExpired
	}
	token.Used = true
	token.UsedAt = &now
	token.OrderID = orderID
	return nil
}

func cloneToken(t *Token) *Token {
	out := *t
	out.Metadata = maps.Clone(t.Metadata)
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		out.ExpiresAt = &exp
	}
	if t.UsedAt != nil {
		used := *t.UsedAt
		out.UsedAt = &used
	}
	return &out
}
