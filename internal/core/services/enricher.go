package services

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
)

// Enricher turns raw source records into index documents.
// It performs no I/O. A record that fails validation is dropped and logged;
// the rest of the batch is still built.
type Enricher struct {
	logger *slog.Logger
}

// NewEnricher creates an enricher.
func NewEnricher(logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{logger: logger}
}

// BuildDocuments assembles one document per valid record of the given kind.
// Records of another kind are treated as invalid.
func (e *Enricher) BuildDocuments(kind domain.AggregateKind, records []domain.RawRecord) []domain.Document {
	docs, _ := e.Build(kind, records)
	return docs
}

// Build is BuildDocuments that also returns the rejected records.
func (e *Enricher) Build(kind domain.AggregateKind, records []domain.RawRecord) ([]domain.Document, []error) {
	docs := make([]domain.Document, 0, len(records))
	var rejected []error

	for _, rec := range records {
		doc, err := e.buildOne(kind, rec)
		if err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				e.logger.Warn("dropping invalid record",
					"kind", verr.Kind,
					"key", verr.Key,
					"field", verr.Field,
				)
			} else {
				e.logger.Warn("dropping record", "kind", kind, "error", err)
			}
			rejected = append(rejected, err)
			continue
		}
		docs = append(docs, doc)
	}

	return docs, rejected
}

func (e *Enricher) buildOne(kind domain.AggregateKind, rec domain.RawRecord) (domain.Document, error) {
	if rec == nil {
		return nil, &domain.ValidationError{Kind: kind, Field: "record"}
	}
	if rec.RecordKind() != kind {
		return nil, &domain.ValidationError{Kind: kind, Key: rec.RecordKey(), Field: "kind"}
	}

	switch r := rec.(type) {
	case *domain.RawMovie:
		return buildMovie(r)
	case *domain.RawPerson:
		return buildPerson(r)
	case *domain.RawGenre:
		return buildGenre(r)
	default:
		return nil, &domain.ValidationError{Kind: kind, Key: rec.RecordKey(), Field: "kind"}
	}
}

func buildMovie(r *domain.RawMovie) (*domain.MovieDocument, error) {
	if err := validateKey(domain.AggregateMovie, r.UUID); err != nil {
		return nil, err
	}
	if r.Title == "" {
		return nil, &domain.ValidationError{Kind: domain.AggregateMovie, Key: r.UUID, Field: "title"}
	}

	actors, err := participants(r.UUID, "actors", r.Actors)
	if err != nil {
		return nil, err
	}
	writers, err := participants(r.UUID, "writers", r.Writers)
	if err != nil {
		return nil, err
	}

	return &domain.MovieDocument{
		UUID:         r.UUID,
		IMDbRating:   r.IMDbRating,
		Genre:        nonNil(r.Genres),
		Title:        r.Title,
		Description:  r.Description,
		Director:     nonNil(r.Directors),
		ActorsNames:  names(actors),
		WritersNames: names(writers),
		Actors:       actors,
		Writers:      writers,
	}, nil
}

func buildPerson(r *domain.RawPerson) (*domain.PersonDocument, error) {
	if err := validateKey(domain.AggregatePerson, r.UUID); err != nil {
		return nil, err
	}
	if r.FullName == "" {
		return nil, &domain.ValidationError{Kind: domain.AggregatePerson, Key: r.UUID, Field: "full_name"}
	}

	films := make([]domain.PortfolioFilm, 0, len(r.Films))
	for _, f := range r.Films {
		if _, err := uuid.Parse(f.UUID); err != nil {
			return nil, &domain.ValidationError{Kind: domain.AggregatePerson, Key: r.UUID, Field: "films.uuid"}
		}
		films = append(films, domain.PortfolioFilm{UUID: f.UUID, Roles: nonNil(f.Roles)})
	}

	return &domain.PersonDocument{
		UUID:     r.UUID,
		FullName: r.FullName,
		Films:    films,
	}, nil
}

func buildGenre(r *domain.RawGenre) (*domain.GenreDocument, error) {
	if err := validateKey(domain.AggregateGenre, r.UUID); err != nil {
		return nil, err
	}
	if r.Name == "" {
		return nil, &domain.ValidationError{Kind: domain.AggregateGenre, Key: r.UUID, Field: "name"}
	}
	return &domain.GenreDocument{
		UUID:        r.UUID,
		Name:        r.Name,
		Description: r.Description,
	}, nil
}

func validateKey(kind domain.AggregateKind, key string) error {
	if _, err := uuid.Parse(key); err != nil {
		return &domain.ValidationError{Kind: kind, Key: key, Field: "uuid"}
	}
	return nil
}

func participants(filmID, field string, raw []domain.RawParticipant) ([]domain.Participant, error) {
	out := make([]domain.Participant, 0, len(raw))
	for _, p := range raw {
		if _, err := uuid.Parse(p.UUID); err != nil || p.FullName == "" {
			return nil, &domain.ValidationError{Kind: domain.AggregateMovie, Key: filmID, Field: field}
		}
		out = append(out, domain.Participant{UUID: p.UUID, FullName: p.FullName})
	}
	return out, nil
}

func names(ps []domain.Participant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.FullName
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
