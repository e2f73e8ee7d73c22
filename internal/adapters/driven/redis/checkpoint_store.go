package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CheckpointStore = (*CheckpointStore)(nil)

const checkpointPrefix = "cinema-etl:checkpoints:"

// CheckpointStore keeps every checkpoint of one namespace in a single JSON
// string key. The whole document is rewritten on each Set.
// A single coordinator writes a namespace; the document is cached after
// the first read.
type CheckpointStore struct {
	client *redis.Client
	key    string

	mu     sync.Mutex
	loaded bool
	values map[string]string
}

// NewCheckpointStore creates a store for the given namespace.
func NewCheckpointStore(client *redis.Client, namespace string) *CheckpointStore {
	if namespace == "" {
		namespace = "default"
	}
	return &CheckpointStore{
		client: client,
		key:    checkpointPrefix + namespace,
		values: make(map[string]string),
	}
}

// Key returns the Redis key holding the document.
func (s *CheckpointStore) Key() string {
	return s.key
}

// Get returns the value of key. A missing Redis key means no stream has run.
func (s *CheckpointStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		return "", false, err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

// Set writes key and persists the document. On failure the cached
// document keeps its previous value.
func (s *CheckpointStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	next := maps.Clone(s.values)
	next[key] = value

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("%w: marshal checkpoints: %v", domain.ErrPersistence, err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrPersistence, s.key, err)
	}

	s.values = next
	return nil
}

// All returns a copy of every stored checkpoint.
func (s *CheckpointStore) All(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return maps.Clone(s.values), nil
}

func (s *CheckpointStore) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", s.key, err)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("decode %s: %w", s.key, err)
	}
	s.values = values
	s.loaded = true
	return nil
}
