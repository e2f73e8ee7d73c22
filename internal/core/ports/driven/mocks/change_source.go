package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driven"
)

var _ driven.ChangeSource = (*MockChangeSource)(nil)

// PollCall records one PollChanged invocation
type PollCall struct {
	Table string
	Since time.Time
	Limit int
}

// FetchCall records one FetchAggregatePayload invocation
type FetchCall struct {
	Kind domain.AggregateKind
	Keys []string
}

// MockChangeSource is an in-memory ChangeSource for testing.
// Rows are kept per table; Links maps a secondary row to the films that reference it.
type MockChangeSource struct {
	mu      sync.Mutex
	rows    map[string]domain.ChangeChunk
	links   map[string]map[string][]string
	records map[domain.AggregateKind]map[string]domain.RawRecord

	pollCalls  []PollCall
	mapCalls   [][]string
	fetchCalls []FetchCall

	// Hooks; a non-nil error fails the call before any state is read.
	PollFn  func(call PollCall) error
	MapFn   func(keys []string) error
	FetchFn func(call FetchCall) error
	PingFn  func() error
}

// NewMockChangeSource creates a new MockChangeSource
func NewMockChangeSource() *MockChangeSource {
	return &MockChangeSource{
		rows:    make(map[string]domain.ChangeChunk),
		links:   make(map[string]map[string][]string),
		records: make(map[domain.AggregateKind]map[string]domain.RawRecord),
	}
}

// AddRow registers a changed row in table.
func (m *MockChangeSource) AddRow(table, id string, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[table] = append(m.rows[table], domain.ChangedRow{ID: id, UpdatedAt: updatedAt})
}

// Link records that the secondary row id of table is referenced by the given films.
func (m *MockChangeSource) Link(table, id string, filmIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[table] == nil {
		m.links[table] = make(map[string][]string)
	}
	m.links[table][id] = append(m.links[table][id], filmIDs...)
}

// AddRecord registers the enrichment result of one aggregate.
func (m *MockChangeSource) AddRecord(rec domain.RawRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind := rec.RecordKind()
	if m.records[kind] == nil {
		m.records[kind] = make(map[string]domain.RawRecord)
	}
	m.records[kind][rec.RecordKey()] = rec
}

func (m *MockChangeSource) PollChanged(ctx context.Context, stream domain.StreamDescriptor, since time.Time, limit int) (domain.ChangeChunk, error) {
	call := PollCall{Table: stream.SourceTable, Since: since, Limit: limit}
	m.mu.Lock()
	m.pollCalls = append(m.pollCalls, call)
	m.mu.Unlock()

	if m.PollFn != nil {
		if err := m.PollFn(call); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out domain.ChangeChunk
	for _, row := range m.rows[stream.SourceTable] {
		if row.UpdatedAt.After(since) {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockChangeSource) MapToAffectedAggregateKeys(ctx context.Context, stream domain.StreamDescriptor, keys []string) ([]string, error) {
	m.mu.Lock()
	m.mapCalls = append(m.mapCalls, append([]string(nil), keys...))
	m.mu.Unlock()

	if m.MapFn != nil {
		if err := m.MapFn(keys); err != nil {
			return nil, err
		}
	}
	if !stream.NeedsFanOut() {
		return keys, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, key := range keys {
		for _, film := range m.links[stream.SourceTable][key] {
			if _, dup := seen[film]; dup {
				continue
			}
			seen[film] = struct{}{}
			out = append(out, film)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MockChangeSource) FetchAggregatePayload(ctx context.Context, kind domain.AggregateKind, keys []string) ([]domain.RawRecord, error) {
	call := FetchCall{Kind: kind, Keys: append([]string(nil), keys...)}
	m.mu.Lock()
	m.fetchCalls = append(m.fetchCalls, call)
	m.mu.Unlock()

	if m.FetchFn != nil {
		if err := m.FetchFn(call); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RawRecord
	for _, key := range keys {
		if rec, ok := m.records[kind][key]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MockChangeSource) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// Helper methods for testing

// PollCalls returns every recorded poll.
func (m *MockChangeSource) PollCalls() []PollCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PollCall(nil), m.pollCalls...)
}

// MapCalls returns the key lists passed to MapToAffectedAggregateKeys.
func (m *MockChangeSource) MapCalls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.mapCalls...)
}

// FetchCalls returns every recorded payload fetch.
func (m *MockChangeSource) FetchCalls() []FetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FetchCall(nil), m.fetchCalls...)
}

// ResetCalls clears recorded calls, keeping data.
func (m *MockChangeSource) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollCalls = nil
	m.mapCalls = nil
	m.fetchCalls = nil
}
