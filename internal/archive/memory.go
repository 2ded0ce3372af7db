package archive

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps snapshots in-memory for development and tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory snapshot store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// PutObject stores the snapshot and returns a memory:// URI.
func (s *Memory) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns a stored snapshot.
func (s *Memory) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	return data, ok
}

// Len reports how many snapshots are held.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
