package domain

import "fmt"

// AggregateKind selects the enrichment and document-assembly path
type AggregateKind string

const (
	AggregateMovie  AggregateKind = "movie"
	AggregatePerson AggregateKind = "person"
	AggregateGenre  AggregateKind = "genre"
)

// Search index names
const (
	IndexMovies  = "movies"
	IndexPersons = "persons"
	IndexGenres  = "genres"
)

// Source tables that drive change detection
const (
	TableFilmWork = "film_work"
	TablePerson   = "person"
	TableGenre    = "genre"
)

// StreamDescriptor is the static definition of one tracked change stream
type StreamDescriptor struct {
	SourceTable   string        `json:"source_table"`
	CheckpointKey string        `json:"checkpoint_key"`
	TargetIndex   string        `json:"target_index"`
	AggregateKind AggregateKind `json:"aggregate_kind"`
}

// String returns a short label used in logs.
func (s StreamDescriptor) String() string {
	return fmt.Sprintf("%s->%s", s.SourceTable, s.TargetIndex)
}

// NeedsFanOut reports whether changed rows must be translated into the
// keys of the aggregates that embed them before enrichment.
func (s StreamDescriptor) NeedsFanOut() bool {
	return s.TargetIndex == IndexMovies && s.SourceTable != TableFilmWork
}

// DefaultStreams returns the five tracked streams in round-robin order.
func DefaultStreams() []StreamDescriptor {
	return []StreamDescriptor{
		{SourceTable: TablePerson, CheckpointKey: "_pers_modified", TargetIndex: IndexMovies, AggregateKind: AggregateMovie},
		{SourceTable: TableGenre, CheckpointKey: "_gen_modified", TargetIndex: IndexMovies, AggregateKind: AggregateMovie},
		{SourceTable: TableFilmWork, CheckpointKey: "_film_modified", TargetIndex: IndexMovies, AggregateKind: AggregateMovie},
		{SourceTable: TablePerson, CheckpointKey: "_pers_in_films_modified", TargetIndex: IndexPersons, AggregateKind: AggregatePerson},
		{SourceTable: TableGenre, CheckpointKey: "_gen_in_films_modified", TargetIndex: IndexGenres, AggregateKind: AggregateGenre},
	}
}

// ValidateStreams checks that every stream is complete and that
// checkpoint keys are unique.
func ValidateStreams(streams []StreamDescriptor) error {
	seen := make(map[string]struct{}, len(streams))
	for _, s := range streams {
		if s.SourceTable == "" || s.CheckpointKey == "" || s.TargetIndex == "" || s.AggregateKind == "" {
			return fmt.Errorf("%w: incomplete stream descriptor %+v", ErrInvalidInput, s)
		}
		if _, dup := seen[s.CheckpointKey]; dup {
			return fmt.Errorf("%w: duplicate checkpoint key %q", ErrInvalidInput, s.CheckpointKey)
		}
		seen[s.CheckpointKey] = struct{}{}
	}
	return nil
}
