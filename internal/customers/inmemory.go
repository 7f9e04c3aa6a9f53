package customers

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// InMemoryStore keeps the customer book in process memory. The default when
// no spreadsheet is configured; contents are lost on restart.
type InMemoryStore struct {
	mu     sync.RWMutex
	list   []Customer
	nextID int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1}
}

func (s *InMemoryStore) List(_ context.Context) ([]Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Customer(nil), s.list...), nil
}

func (s *InMemoryStore) Add(_ context.Context, c Customer) (Customer, error) {
	if c.Name == "" || c.Phone == "" {
		return Customer{}, ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = strconv.Itoa(s.nextID)
	s.nextID++
	if c.RegisteredDate == "" {
		c.RegisteredDate = time.Now().Format("2006-01-02")
	}
	s.list = append(s.list, c)
	return c, nil
}

func (s *InMemoryStore) Update(_ context.Context, id string, p Patch) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.list {
		if c.ID == id {
			s.list[i] = c.apply(p)
			return s.list[i], nil
		}
	}
	return Customer{}, ErrNotFound
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.list {
		if c.ID == id {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
