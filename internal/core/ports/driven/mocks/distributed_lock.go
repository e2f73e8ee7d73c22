package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*MockDistributedLock)(nil)

// MockDistributedLock is an in-memory lease table shared by every worker
// that holds it. Leases expire on the wall clock.
type MockDistributedLock struct {
	mu     sync.Mutex
	leases map[string]time.Time
	events []string

	AcquireFn func(name string, ttl time.Duration) (bool, error)
	ExtendFn  func(name string, ttl time.Duration) error
	PingFn    func() error
}

// NewMockDistributedLock creates an empty lease table
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{leases: make(map[string]time.Time)}
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(name) {
		return false, nil
	}
	m.leases[name] = time.Now().Add(ttl)
	m.events = append(m.events, "acquire "+name)
	return true, nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	if m.ExtendFn != nil {
		return m.ExtendFn(name, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live(name) {
		return fmt.Errorf("lease %s: %w", name, domain.ErrLockNotAcquired)
	}
	m.leases[name] = time.Now().Add(ttl)
	m.events = append(m.events, "extend "+name)
	return nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, name)
	m.events = append(m.events, "release "+name)
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

func (m *MockDistributedLock) live(name string) bool {
	expiry, ok := m.leases[name]
	return ok && time.Now().Before(expiry)
}

// IsHeld reports whether name has an unexpired lease.
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live(name)
}

// HoldElsewhere plants a lease owned by another process.
func (m *MockDistributedLock) HoldElsewhere(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leases[name] = time.Now().Add(ttl)
}

// Events returns the lease operations in order, e.g. "acquire coordinator:default".
func (m *MockDistributedLock) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}
