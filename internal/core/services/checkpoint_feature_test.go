package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cucumber/godog"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
)

// checkpointFeature holds scenario state. The fixture is built lazily so
// Given steps can tune sizes first.
type checkpointFeature struct {
	t         *testing.T
	fetchSize int
	films     int
	f         *fixture
}

func (s *checkpointFeature) fixture() *fixture {
	if s.f == nil {
		s.f = newFixture(s.t, 10, s.fetchSize, personMoviesStream, filmStream)
	}
	return s.f
}

func (s *checkpointFeature) emptyStore() error {
	s.fetchSize = 10
	s.films = 0
	s.f = nil
	return nil
}

func (s *checkpointFeature) fetchSizeOf(n int) error {
	if s.f != nil {
		return errors.New("fetch size must be set before data")
	}
	s.fetchSize = n
	return nil
}

func (s *checkpointFeature) filmsChanged(n int) error {
	s.fixture().addFilms(s.films+1, s.films+n)
	s.films += n
	return nil
}

func (s *checkpointFeature) publishAcknowledged(call, ack int) error {
	s.fixture().publisher.PublishFn = func(c int, index string, docs []domain.Document) (int, error) {
		if c == call {
			return ack, nil
		}
		return len(docs), nil
	}
	return nil
}

func (s *checkpointFeature) personAppearsIn(person, n int) error {
	f := s.fixture()
	f.source.AddRow(domain.TablePerson, id(person), at(person))
	for i := 1; i <= n; i++ {
		f.source.Link(domain.TablePerson, id(person), id(i))
		f.source.AddRecord(movie(i))
	}
	return nil
}

func (s *checkpointFeature) storeRejectsWrites() error {
	s.fixture().store.SetFn = func(key, value string) error { return errors.New("read-only filesystem") }
	return nil
}

func (s *checkpointFeature) storeAcceptsWrites() error {
	s.fixture().store.SetFn = nil
	return nil
}

func (s *checkpointFeature) runCycle() error {
	_, err := s.fixture().coord.RunCycle(context.Background())
	return err
}

func (s *checkpointFeature) checkpointIs(key, want string) error {
	if got := s.fixture().store.Value(key); got != want {
		return fmt.Errorf("checkpoint %s = %q, want %q", key, got, want)
	}
	return nil
}

func (s *checkpointFeature) checkpointAtFilm(key string, n int) error {
	return s.checkpointIs(key, domain.FormatTimestamp(at(n)))
}

func (s *checkpointFeature) indexHolds(index string, n int) error {
	if got := s.fixture().publisher.Count(index); got != n {
		return fmt.Errorf("index %s holds %d documents, want %d", index, got, n)
	}
	return nil
}

func (s *checkpointFeature) movieFetches(n int) error {
	got := 0
	for _, call := range s.fixture().source.FetchCalls() {
		if call.Kind == domain.AggregateMovie {
			got++
		}
	}
	if got != n {
		return fmt.Errorf("movie payload fetched in %d requests, want %d", got, n)
	}
	return nil
}

func TestCheckpointFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name: "checkpoints",
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			s := &checkpointFeature{t: t, fetchSize: 10}

			sc.Step(`^an empty checkpoint store$`, s.emptyStore)
			sc.Step(`^a fetch size of (\d+)$`, s.fetchSizeOf)
			sc.Step(`^(\d+) (?:more )?films? changed$`, s.filmsChanged)
			sc.Step(`^publish (\d+) is acknowledged for (\d+) documents?$`, s.publishAcknowledged)
			sc.Step(`^person (\d+) appears in (\d+) films$`, s.personAppearsIn)
			sc.Step(`^the checkpoint store rejects writes$`, s.storeRejectsWrites)
			sc.Step(`^the checkpoint store accepts writes$`, s.storeAcceptsWrites)
			sc.Step(`^the coordinator runs one cycle$`, s.runCycle)
			sc.Step(`^checkpoint "([^"]*)" is "([^"]*)"$`, s.checkpointIs)
			sc.Step(`^checkpoint "([^"]*)" is at the change time of film (\d+)$`, s.checkpointAtFilm)
			sc.Step(`^the "([^"]*)" index holds (\d+) documents?$`, s.indexHolds)
			sc.Step(`^movie payloads were fetched in (\d+) requests?$`, s.movieFetches)
		},
		Options: &godog.Options{
			Format:   "progress",
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("checkpoint feature scenarios failed")
	}
}
