package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driven"
)

var _ driven.CheckpointStore = (*MockCheckpointStore)(nil)

// MockCheckpointStore is an in-memory CheckpointStore for testing
type MockCheckpointStore struct {
	mu     sync.RWMutex
	values map[string]string
	writes []domain.Checkpoint

	// SetFn, when set, runs before a write; a non-nil error rejects the write.
	SetFn func(key, value string) error
}

// NewMockCheckpointStore creates a new MockCheckpointStore
func NewMockCheckpointStore() *MockCheckpointStore {
	return &MockCheckpointStore{
		values: make(map[string]string),
	}
}

func (m *MockCheckpointStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MockCheckpointStore) Set(ctx context.Context, key, value string) error {
	if m.SetFn != nil {
		if err := m.SetFn(key, value); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.writes = append(m.writes, domain.Checkpoint{Key: key, Value: value})
	return nil
}

func (m *MockCheckpointStore) All(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

// Helper methods for testing

// Value returns the stored value or "" when absent.
func (m *MockCheckpointStore) Value(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key]
}

// Writes returns every successful write in order.
func (m *MockCheckpointStore) Writes() []domain.Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Checkpoint, len(m.writes))
	copy(out, m.writes)
	return out
}

// WritesFor returns the successful writes of one key in order.
func (m *MockCheckpointStore) WritesFor(key string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, w := range m.writes {
		if w.Key == key {
			out = append(out, w.Value)
		}
	}
	return out
}
