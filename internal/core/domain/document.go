package domain

import "time"

// RawRecord is one enrichment result fetched from the source for a single aggregate key.
type RawRecord interface {
	RecordKey() string
	RecordKind() AggregateKind
}

// RawParticipant is a person attached to a film in a given role
type RawParticipant struct {
	UUID     string `json:"uuid"`
	FullName string `json:"full_name"`
}

// RawMovie is the film_work enrichment projection
type RawMovie struct {
	UUID        string           `json:"uuid"`
	Title       string           `json:"title"`
	Description *string          `json:"description"`
	IMDbRating  *float64         `json:"imdb_rating"`
	Type        string           `json:"type"`
	CreatedAt   *time.Time       `json:"created_at"`
	UpdatedAt   *time.Time       `json:"updated_at"`
	Actors      []RawParticipant `json:"actors"`
	Writers     []RawParticipant `json:"writers"`
	Directors   []string         `json:"director"`
	Genres      []string         `json:"genre"`
}

func (r *RawMovie) RecordKey() string         { return r.UUID }
func (r *RawMovie) RecordKind() AggregateKind { return AggregateMovie }

// RawFilmRoles is one film of a person's portfolio with every role held in it
type RawFilmRoles struct {
	UUID  string   `json:"uuid"`
	Roles []string `json:"roles"`
}

// RawPerson is the person enrichment projection
type RawPerson struct {
	UUID     string         `json:"uuid"`
	FullName string         `json:"full_name"`
	Films    []RawFilmRoles `json:"films"`
}

func (r *RawPerson) RecordKey() string         { return r.UUID }
func (r *RawPerson) RecordKind() AggregateKind { return AggregatePerson }

// RawGenre is the genre projection
type RawGenre struct {
	UUID        string  `json:"uuid"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

func (r *RawGenre) RecordKey() string         { return r.UUID }
func (r *RawGenre) RecordKind() AggregateKind { return AggregateGenre }

// Document is a denormalized aggregate written to the search index.
// DocumentID is the entity uuid and the index document id.
type Document interface {
	DocumentID() string
}

// Participant is an embedded person reference inside a movie document
type Participant struct {
	UUID     string `json:"uuid"`
	FullName string `json:"full_name"`
}

// MovieDocument is the movies index document
type MovieDocument struct {
	UUID         string        `json:"uuid"`
	IMDbRating   *float64      `json:"imdb_rating"`
	Genre        []string      `json:"genre"`
	Title        string        `json:"title"`
	Description  *string       `json:"description"`
	Director     []string      `json:"director"`
	ActorsNames  []string      `json:"actors_names"`
	WritersNames []string      `json:"writers_names"`
	Actors       []Participant `json:"actors"`
	Writers      []Participant `json:"writers"`
}

func (d *MovieDocument) DocumentID() string { return d.UUID }

// PortfolioFilm is one film of a person document
type PortfolioFilm struct {
	UUID  string   `json:"uuid"`
	Roles []string `json:"roles"`
}

// PersonDocument is the persons index document
type PersonDocument struct {
	UUID     string          `json:"uuid"`
	FullName string          `json:"full_name"`
	Films    []PortfolioFilm `json:"films"`
}

func (d *PersonDocument) DocumentID() string { return d.UUID }

// GenreDocument is the genres index document
type GenreDocument struct {
	UUID        string  `json:"uuid"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

func (d *GenreDocument) DocumentID() string { return d.UUID }

// PublishResult is the outcome of publishing one batch of documents
type PublishResult struct {
	Submitted    int `json:"submitted"`
	Acknowledged int `json:"acknowledged"`
}

// Complete reports whether every submitted document was acknowledged.
func (r PublishResult) Complete() bool {
	return r.Submitted == r.Acknowledged
}

// Add accumulates another result.
func (r PublishResult) Add(other PublishResult) PublishResult {
	return PublishResult{
		Submitted:    r.Submitted + other.Submitted,
		Acknowledged: r.Acknowledged + other.Acknowledged,
	}
}
