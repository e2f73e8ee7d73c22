package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driven"
)

var _ driven.IndexPublisher = (*MockIndexPublisher)(nil)

// MockIndexPublisher is an in-memory IndexPublisher for testing.
// Documents are stored as their JSON encoding keyed by index and id, so a
// second publish of the same document overwrites the first.
type MockIndexPublisher struct {
	mu        sync.RWMutex
	indices   map[string]map[string][]byte
	ensured   map[string]int
	published [][]string
	calls     int

	// PublishFn overrides the acknowledged count for a call (1-based).
	// Only the first acknowledged documents are stored. A non-nil error
	// fails the call and stores nothing.
	PublishFn func(call int, index string, docs []domain.Document) (acknowledged int, err error)
	EnsureFn  func(index string) error
	HealthFn  func() error
}

// NewMockIndexPublisher creates a new MockIndexPublisher
func NewMockIndexPublisher() *MockIndexPublisher {
	return &MockIndexPublisher{
		indices: make(map[string]map[string][]byte),
		ensured: make(map[string]int),
	}
}

func (m *MockIndexPublisher) EnsureIndex(ctx context.Context, index string) error {
	if m.EnsureFn != nil {
		if err := m.EnsureFn(index); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensured[index]++
	if m.indices[index] == nil {
		m.indices[index] = make(map[string][]byte)
	}
	return nil
}

func (m *MockIndexPublisher) Publish(ctx context.Context, index string, docs []domain.Document) (domain.PublishResult, error) {
	if len(docs) == 0 {
		return domain.PublishResult{}, nil
	}

	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	acknowledged := len(docs)
	if m.PublishFn != nil {
		ack, err := m.PublishFn(call, index, docs)
		if err != nil {
			return domain.PublishResult{}, err
		}
		acknowledged = min(max(ack, 0), len(docs))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indices[index] == nil {
		m.indices[index] = make(map[string][]byte)
	}
	ids := make([]string, 0, acknowledged)
	for _, doc := range docs[:acknowledged] {
		body, err := json.Marshal(doc)
		if err != nil {
			return domain.PublishResult{}, err
		}
		m.indices[index][doc.DocumentID()] = body
		ids = append(ids, doc.DocumentID())
	}
	m.published = append(m.published, ids)
	return domain.PublishResult{Submitted: len(docs), Acknowledged: acknowledged}, nil
}

func (m *MockIndexPublisher) HealthCheck(ctx context.Context) error {
	if m.HealthFn != nil {
		return m.HealthFn()
	}
	return nil
}

// Helper methods for testing

// Count returns the number of documents stored in index.
func (m *MockIndexPublisher) Count(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.indices[index])
}

// Get returns the stored JSON of one document.
func (m *MockIndexPublisher) Get(index, id string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.indices[index][id]
	return body, ok
}

// Snapshot returns a copy of one index.
func (m *MockIndexPublisher) Snapshot(index string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.indices[index]))
	for id, body := range m.indices[index] {
		out[id] = string(body)
	}
	return out
}

// EnsureCalls returns how many times EnsureIndex succeeded for index.
func (m *MockIndexPublisher) EnsureCalls(index string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ensured[index]
}

// Published returns the acknowledged ids of every successful call.
func (m *MockIndexPublisher) Published() [][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]string(nil), m.published...)
}

// Calls returns the number of non-empty Publish calls.
func (m *MockIndexPublisher) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}
