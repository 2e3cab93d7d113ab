package session

import (
	"context"
	"sync"
)

// MemoryStore keeps the session in process memory
type MemoryStore struct {
	mu   sync.Mutex
	data *Persisted
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*Persisted, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return nil, nil
	}
	p := *s.data
	return &p, nil
}

func (s *MemoryStore) Save(ctx context.Context, p Persisted) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = &p
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = nil
	return nil
}
