package usage

import (
	"context"
	"sync"
)

// Store persists lifetime counters per owner.
type Store interface {
	LoadLifetime(ctx context.Context, owner string) (Counters, error)
	SaveLifetime(ctx context.Context, owner string, lifetime Counters) error
}

// MemoryStore keeps lifetime counters in process. Saves never lower a stored
// field.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]Counters
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Counters)}
}

func (s *MemoryStore) LoadLifetime(ctx context.Context, owner string) (Counters, error) {
	if err := ctx.Err(); err != nil {
		return Counters{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[owner], nil
}

func (s *MemoryStore) SaveLifetime(ctx context.Context, owner string, lifetime Counters) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[owner] = maxCounters(s.data[owner], lifetime)
	return nil
}
