package embedcache

import (
	"context"
	"sync"
)

// MemoryStore keeps cached vectors in process memory. Suitable for a
// single-instance deployment; entries live until the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vectors: make(map[string][]float32),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vec, ok := s.vectors[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, vec []float32) error {
	stored := make([]float32, len(vec))
	copy(stored, vec)

	s.mu.Lock()
	s.vectors[key] = stored
	s.mu.Unlock()
	return nil
}

// Len reports the number of cached vectors.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}
