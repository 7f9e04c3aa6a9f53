package callstore

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is the default single-process store: two maps behind one
// mutex, safe for concurrent HTTP handlers and relay sessions.
type InMemoryStore struct {
	mu       sync.RWMutex
	statuses map[string]CallStatus
	contexts map[string]CallContext
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		statuses: make(map[string]CallStatus),
		contexts: make(map[string]CallContext),
	}
}

func (s *InMemoryStore) PutStatus(_ context.Context, callSid string, status CallStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[callSid] = status
	return nil
}

func (s *InMemoryStore) GetStatus(_ context.Context, callSid string) (CallStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[callSid]
	if !ok {
		return CallStatus{}, ErrNotFound
	}
	return status, nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, callSid, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.statuses[callSid]
	if !ok {
		return ErrNotFound
	}
	current.Status = status
	current.UpdatedAt = time.Now().UTC()
	s.statuses[callSid] = current
	return nil
}

func (s *InMemoryStore) PutContext(_ context.Context, callSid string, cc CallContext) error {
	if cc.CreatedAt.IsZero() {
		cc.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[callSid] = cc
	return nil
}

func (s *InMemoryStore) GetContext(_ context.Context, callSid string) (CallContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cc, ok := s.contexts[callSid]
	if !ok {
		return CallContext{}, ErrNotFound
	}
	return cc, nil
}

func (s *InMemoryStore) Delete(_ context.Context, callSid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.statuses, callSid)
	delete(s.contexts, callSid)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
