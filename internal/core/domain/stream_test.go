package domain

import (
	"errors"
	"testing"
)

func TestDefaultStreams(t *testing.T) {
	streams := DefaultStreams()

	want := []struct {
		table string
		key   string
		index string
		kind  AggregateKind
	}{
		{TablePerson, "_pers_modified", IndexMovies, AggregateMovie},
		{TableGenre, "_gen_modified", IndexMovies, AggregateMovie},
		{TableFilmWork, "_film_modified", IndexMovies, AggregateMovie},
		{TablePerson, "_pers_in_films_modified", IndexPersons, AggregatePerson},
		{TableGenre, "_gen_in_films_modified", IndexGenres, AggregateGenre},
	}

	if len(streams) != len(want) {
		t.Fatalf("expected %d streams, got %d", len(want), len(streams))
	}
	for i, w := range want {
		s := streams[i]
		if s.SourceTable != w.table || s.CheckpointKey != w.key || s.TargetIndex != w.index || s.AggregateKind != w.kind {
			t.Errorf("stream %d: got %+v", i, s)
		}
	}

	if err := ValidateStreams(streams); err != nil {
		t.Errorf("default streams should validate: %v", err)
	}
}

func TestStreamDescriptor_NeedsFanOut(t *testing.T) {
	expected := map[string]bool{
		"_pers_modified":          true,
		"_gen_modified":           true,
		"_film_modified":          false,
		"_pers_in_films_modified": false,
		"_gen_in_films_modified":  false,
	}

	for _, s := range DefaultStreams() {
		if s.NeedsFanOut() != expected[s.CheckpointKey] {
			t.Errorf("%s: expected NeedsFanOut() = %v", s.CheckpointKey, expected[s.CheckpointKey])
		}
	}
}

func TestStreamDescriptor_String(t *testing.T) {
	s := DefaultStreams()[0]
	if s.String() != "person->movies" {
		t.Errorf("expected person->movies, got %q", s.String())
	}
}

func TestValidateStreams(t *testing.T) {
	tests := []struct {
		name    string
		streams []StreamDescriptor
		wantErr bool
	}{
		{"empty", nil, false},
		{"defaults", DefaultStreams(), false},
		{
			name:    "missing index",
			streams: []StreamDescriptor{{SourceTable: TableGenre, CheckpointKey: "k", AggregateKind: AggregateGenre}},
			wantErr: true,
		},
		{
			name:    "duplicate key",
			streams: append(DefaultStreams(), DefaultStreams()[2]),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStreams(tt.streams)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateStreams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
