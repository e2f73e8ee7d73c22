package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
)

// ChangeSource reads changes and enrichment joins from the relational source (PostgreSQL).
// Every method is a pure read and safe to repeat.
type ChangeSource interface {
	// PollChanged returns up to limit rows of stream.SourceTable with
	// updated_at > since, ordered by updated_at ascending.
	PollChanged(ctx context.Context, stream domain.StreamDescriptor, since time.Time, limit int) (domain.ChangeChunk, error)

	// MapToAffectedAggregateKeys resolves changed rows of a secondary table
	// into the primary aggregate keys that embed them. Identity for the
	// primary table.
	MapToAffectedAggregateKeys(ctx context.Context, stream domain.StreamDescriptor, keys []string) ([]string, error)

	// FetchAggregatePayload runs the enrichment join and returns at most one
	// raw record per key. Keys absent from the source are simply missing.
	FetchAggregatePayload(ctx context.Context, kind domain.AggregateKind, keys []string) ([]domain.RawRecord, error)

	// Ping checks if the source is reachable
	Ping(ctx context.Context) error
}
