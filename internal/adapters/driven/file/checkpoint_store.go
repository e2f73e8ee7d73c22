// Package file stores checkpoints in a JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CheckpointStore = (*CheckpointStore)(nil)

// DefaultPath is where checkpoints live when no path is configured.
const DefaultPath = "state/checkpoints.json"

// CheckpointStore persists every checkpoint in one JSON object.
// Each Set rewrites the file through a temp file and a rename so a crash
// leaves either the old or the new document. A missing file means no
// stream has run yet.
type CheckpointStore struct {
	fs   afero.Fs
	path string

	mu     sync.Mutex
	loaded bool
	values map[string]string
}

// NewCheckpointStore creates a store at path on fsys (the OS filesystem when nil).
func NewCheckpointStore(fsys afero.Fs, path string) *CheckpointStore {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if path == "" {
		path = DefaultPath
	}
	return &CheckpointStore{
		fs:     fsys,
		path:   path,
		values: make(map[string]string),
	}
}

// Path returns the checkpoint document location.
func (s *CheckpointStore) Path() string {
	return s.path
}

// Get returns the value of key. The file is read once and cached.
func (s *CheckpointStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return "", false, err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

// Set persists key. The cached document only changes once the rename succeeded.
func (s *CheckpointStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	next := maps.Clone(s.values)
	next[key] = value

	if err := s.write(next); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	s.values = next
	return nil
}

// All returns a copy of every stored checkpoint.
func (s *CheckpointStore) All(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, err
	}
	return maps.Clone(s.values), nil
}

func (s *CheckpointStore) load() error {
	if s.loaded {
		return nil
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}

	values := make(map[string]string)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("decode %s: %w", s.path, err)
		}
	}
	s.values = values
	s.loaded = true
	return nil
}

func (s *CheckpointStore) write(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoints: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}
