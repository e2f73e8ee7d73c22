package driven

import "context"

// CheckpointStore persists the "last processed" timestamp of every tracked stream.
// All keys live in one serialized document; exactly one coordinator writes it.
type CheckpointStore interface {
	// Get returns the value for key. ok is false when the key was never written.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set writes value for key. A failed write wraps domain.ErrPersistence
	// and leaves the previously visible value in place.
	Set(ctx context.Context, key, value string) error

	// All returns a copy of every stored checkpoint
	All(ctx context.Context) (map[string]string, error)
}
