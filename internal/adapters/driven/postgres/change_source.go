package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ChangeSource = (*ChangeSource)(nil)

// ChangeSource reads changed rows and enrichment payloads from the
// content schema. Every statement is logged at debug level.
type ChangeSource struct {
	db     *DB
	schema string
	logger *slog.Logger
}

// NewChangeSource creates a ChangeSource over schema (DefaultSchema when empty).
func NewChangeSource(db *DB, schema string, logger *slog.Logger) *ChangeSource {
	if schema == "" {
		schema = DefaultSchema
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeSource{db: db, schema: schema, logger: logger}
}

// PollChanged returns up to limit rows of the stream table updated strictly after since.
func (s *ChangeSource) PollChanged(ctx context.Context, stream domain.StreamDescriptor, since time.Time, limit int) (domain.ChangeChunk, error) {
	rows, err := s.query(ctx, pollQuery(s.schema, stream.SourceTable), since, limit)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", stream.SourceTable, err)
	}
	defer rows.Close()

	chunk := make(domain.ChangeChunk, 0, limit)
	for rows.Next() {
		var row domain.ChangedRow
		if err := rows.Scan(&row.ID, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("poll %s: scan: %w", stream.SourceTable, err)
		}
		chunk = append(chunk, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("poll %s: %w: %w", stream.SourceTable, domain.ErrTransientIO, err)
	}
	return chunk, nil
}

// MapToAffectedAggregateKeys resolves person or genre ids to the films
// that reference them. Other streams pass keys through.
func (s *ChangeSource) MapToAffectedAggregateKeys(ctx context.Context, stream domain.StreamDescriptor, keys []string) ([]string, error) {
	if !stream.NeedsFanOut() || len(keys) == 0 {
		return keys, nil
	}

	rows, err := s.query(ctx, fanOutQuery(s.schema, stream.SourceTable), pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("map %s to films: %w", stream.SourceTable, err)
	}
	defer rows.Close()

	var films []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("map %s to films: scan: %w", stream.SourceTable, err)
		}
		films = append(films, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("map %s to films: %w: %w", stream.SourceTable, domain.ErrTransientIO, err)
	}
	return films, nil
}

// FetchAggregatePayload loads the enrichment projection of each key.
// Keys that no longer exist are simply absent from the result.
func (s *ChangeSource) FetchAggregatePayload(ctx context.Context, kind domain.AggregateKind, keys []string) ([]domain.RawRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var (
		template string
		decode   func([]byte) (domain.RawRecord, error)
	)
	switch kind {
	case domain.AggregateMovie:
		template, decode = moviePayloadQuery, decodeAs[domain.RawMovie]
	case domain.AggregatePerson:
		template, decode = personPayloadQuery, decodeAs[domain.RawPerson]
	case domain.AggregateGenre:
		template, decode = genrePayloadQuery, decodeAs[domain.RawGenre]
	default:
		return nil, fmt.Errorf("%w: unknown aggregate kind %q", domain.ErrInvalidInput, kind)
	}

	rows, err := s.query(ctx, payloadQuery(s.schema, template), pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("fetch %s payload: %w", kind, err)
	}
	defer rows.Close()

	records := make([]domain.RawRecord, 0, len(keys))
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("fetch %s payload: scan: %w", kind, err)
		}
		rec, err := decode(body)
		if err != nil {
			return nil, fmt.Errorf("fetch %s payload: %w", kind, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch %s payload: %w: %w", kind, domain.ErrTransientIO, err)
	}
	return records, nil
}

// Ping checks if the database is reachable
func (s *ChangeSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ChangeSource) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	s.logger.Debug("executing query", "sql", compactSQL(query), "args", logArgs(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Debug("query failed", "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrTransientIO, err)
	}
	return rows, nil
}

// decodeAs unmarshals one JSON projection into a *T raw record.
func decodeAs[T any, P interface {
	*T
	domain.RawRecord
}](body []byte) (domain.RawRecord, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode projection: %w", err)
	}
	return P(&v), nil
}

func compactSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// logArgs renders driver.Valuer arguments (pq arrays) as their SQL text.
func logArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
		if v, ok := a.(driver.Valuer); ok {
			if val, err := v.Value(); err == nil {
				out[i] = val
			}
		}
	}
	return out
}
