package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and throwaway local runs.
type MemoryStore struct {
	mu      sync.Mutex
	markers map[string]Marker
	creates int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{markers: map[string]Marker{}}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[key.String()]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *MemoryStore) Create(_ context.Context, key Key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[key.String()]; ok {
		return false, nil
	}
	s.creates++
	s.markers[key.String()] = Marker{
		MarkerKey: key.String(),
		ObjectKey: key.Object,
		Stage:     key.Stage,
		Value:     value,
		CreatedAt: time.Now().UTC(),
	}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, key.String())
	return nil
}

// Len is the number of markers held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markers)
}

// Creates counts successful Create calls.
func (s *MemoryStore) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}
