package driven

import (
	"context"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
)

// IndexPublisher writes aggregate documents to the search index (Elasticsearch)
type IndexPublisher interface {
	// EnsureIndex creates the index with its fixed analyzer and mapping if absent.
	// Idempotent.
	EnsureIndex(ctx context.Context, index string) error

	// Publish upserts documents by id. Safe with zero documents.
	Publish(ctx context.Context, index string, docs []domain.Document) (domain.PublishResult, error)

	// HealthCheck verifies the search engine is available
	HealthCheck(ctx context.Context) error
}
