package elasticsearch

import (
	"embed"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
)

//go:embed indices/*.json
var definitions embed.FS

// Indices lists the indices this publisher knows how to create.
var Indices = []string{domain.IndexMovies, domain.IndexPersons, domain.IndexGenres}

// IndexDefinition returns the create-index body for name: the shared
// ru_en analysis settings plus the strict mapping of that index.
func IndexDefinition(name string) ([]byte, error) {
	if !slices.Contains(Indices, name) {
		return nil, fmt.Errorf("%w: no definition for index %q", domain.ErrNotFound, name)
	}

	settings, err := definitions.ReadFile("indices/settings.json")
	if err != nil {
		return nil, fmt.Errorf("read index settings: %w", err)
	}
	mappings, err := definitions.ReadFile("indices/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("read %s mappings: %w", name, err)
	}

	return json.Marshal(map[string]json.RawMessage{
		"settings": settings,
		"mappings": mappings,
	})
}
