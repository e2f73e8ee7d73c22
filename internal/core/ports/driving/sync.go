package driving

import (
	"context"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
)

// SyncCoordinator drives the change streams into the search index
type SyncCoordinator interface {
	// Run loops over every stream until ctx is cancelled
	Run(ctx context.Context) error

	// RunCycle makes one pass over every stream
	RunCycle(ctx context.Context) ([]*domain.SyncResult, error)

	// EnsureIndices creates every target index that does not exist yet
	EnsureIndices(ctx context.Context) error

	// Status returns a snapshot of every stream in processing order
	Status() []domain.StreamStatus
}
