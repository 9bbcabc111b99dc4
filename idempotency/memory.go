package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local [Store].
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Lookup implements [Store].
func (s *MemoryStore) Lookup(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// Begin implements [Store].
func (s *MemoryStore) Begin(_ context.Context, key, requestHash string, ttl time.Duration) (BeginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.live(key)
	if !ok {
		now := s.now()
		s.records[key] = &Record{
			Key:         key,
			RequestHash: requestHash,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		return BeginResult{State: StateNew}, nil
	}
	if rec.RequestHash != requestHash {
		return BeginResult{State: StateConflict}, nil
	}
	if rec.Pending() {
		return BeginResult{State: StateInProgress}, nil
	}
	return BeginResult{State: StateReplay, Cached: cloneResponse(rec.Response)}, nil
}

// Save implements [Store].
func (s *MemoryStore) Save(_ context.Context, key, requestHash string, resp Response, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.live(key)
	if !ok {
		return ErrNotFound
	}
	if rec.RequestHash != requestHash {
		return ErrHashMismatch
	}
	rec.Response = cloneResponse(&resp)
	rec.ExpiresAt = rec.CreatedAt.Add(ttl)
	return nil
}

// Release implements [Store].
func (s *MemoryStore) Release(_ context.Context, key, requestHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	if rec.RequestHash != requestHash || !rec.Pending() {
		return nil
	}
	delete(s.records, key)
	return nil
}

// PurgeExpired implements [Store].
func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

// live must be called with mu held; it drops the record if it has expired.
func (s *MemoryStore) live(key string) (*Record, bool) {
	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	if !rec.ExpiresAt.After(s.now()) {
		delete(s.records, key)
		return nil, false
	}
	return rec, true
}

func cloneRecord(rec *Record) *Record {
	out := *rec
	out.Response = cloneResponse(rec.Response)
	return &out
}

func cloneResponse(resp *Response) *Response {
	if resp == nil {
		return nil
	}
	out := *resp
	out.Body = append([]byte(nil), resp.Body...)
	return &out
}
