package elasticsearch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
)

// fakeCluster is a minimal Elasticsearch stand-in for index and bulk calls.
type fakeCluster struct {
	mu       sync.Mutex
	indices  map[string][]byte
	docs     map[string]map[string]json.RawMessage
	bulks    int
	reject   map[string]bool // document ids answered with 400
	failBulk bool
	racing   bool // create answers resource_already_exists_exception
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		indices: make(map[string][]byte),
		docs:    make(map[string]map[string]json.RawMessage),
		reject:  make(map[string]bool),
	}
}

func (c *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	c.mu.Lock()
	defer c.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodHead && path == "":
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodHead:
		if _, ok := c.indices[path]; ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	case r.Method == http.MethodPut:
		if c.racing {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"error":{"type":"resource_already_exists_exception","reason":"index [%s] already exists"},"status":400}`, path)
			return
		}
		body, _ := io.ReadAll(r.Body)
		c.indices[path] = body
		fmt.Fprintf(w, `{"acknowledged":true,"index":%q}`, path)

	case r.Method == http.MethodPost && strings.HasSuffix(path, "_bulk"):
		c.bulks++
		if c.failBulk {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"type":"unavailable_shards_exception","reason":"primary shard is not active"},"status":503}`)
			return
		}
		c.handleBulk(w, r)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (c *fakeCluster) handleBulk(w http.ResponseWriter, r *http.Request) {
	var items []map[string]any
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var action map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !scanner.Scan() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		meta := action["index"]
		source := json.RawMessage(append([]byte(nil), scanner.Bytes()...))

		if c.reject[meta.ID] {
			items = append(items, map[string]any{"index": map[string]any{
				"_index": meta.Index, "_id": meta.ID, "status": 400,
				"error": map[string]string{"type": "strict_dynamic_mapping_exception", "reason": "mapping set to strict"},
			}})
			continue
		}
		if c.docs[meta.Index] == nil {
			c.docs[meta.Index] = make(map[string]json.RawMessage)
		}
		status := 201
		if _, exists := c.docs[meta.Index][meta.ID]; exists {
			status = 200
		}
		c.docs[meta.Index][meta.ID] = source
		items = append(items, map[string]any{"index": map[string]any{"_index": meta.Index, "_id": meta.ID, "status": status}})
	}

	_ = json.NewEncoder(w).Encode(map[string]any{"took": 1, "errors": false, "items": items})
}

func newTestPublisher(t *testing.T, cluster *fakeCluster, bulkSize int) *Publisher {
	t.Helper()
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL)
	cfg.BulkSize = bulkSize
	p, err := NewPublisher(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

func genres(n int) []domain.Document {
	docs := make([]domain.Document, n)
	for i := range docs {
		docs[i] = &domain.GenreDocument{
			UUID: fmt.Sprintf("00000000-0000-4000-8000-%012d", i+1),
			Name: fmt.Sprintf("Genre %d", i+1),
		}
	}
	return docs
}

func TestIndexDefinition(t *testing.T) {
	for _, name := range Indices {
		body, err := IndexDefinition(name)
		require.NoError(t, err, name)

		var def struct {
			Settings struct {
				RefreshInterval string `json:"refresh_interval"`
				Analysis        struct {
					Analyzer map[string]struct {
						Tokenizer string   `json:"tokenizer"`
						Filter    []string `json:"filter"`
					} `json:"analyzer"`
				} `json:"analysis"`
			} `json:"settings"`
			Mappings struct {
				Dynamic    string                     `json:"dynamic"`
				Properties map[string]json.RawMessage `json:"properties"`
			} `json:"mappings"`
		}
		require.NoError(t, json.Unmarshal(body, &def))
		assert.Equal(t, "1s", def.Settings.RefreshInterval)
		assert.Equal(t, "standard", def.Settings.Analysis.Analyzer["ru_en"].Tokenizer)
		assert.Len(t, def.Settings.Analysis.Analyzer["ru_en"].Filter, 6)
		assert.Equal(t, "strict", def.Mappings.Dynamic)
		assert.Contains(t, def.Mappings.Properties, "uuid")
	}

	_, err := IndexDefinition("films")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Every field a document serializes must exist in the strict mapping.
func TestIndexDefinition_CoversDocumentFields(t *testing.T) {
	samples := map[string]domain.Document{
		domain.IndexMovies: &domain.MovieDocument{
			Actors:  []domain.Participant{{}},
			Writers: []domain.Participant{{}},
		},
		domain.IndexPersons: &domain.PersonDocument{Films: []domain.PortfolioFilm{{}}},
		domain.IndexGenres:  &domain.GenreDocument{},
	}

	for index, doc := range samples {
		body, err := IndexDefinition(index)
		require.NoError(t, err)
		var def struct {
			Mappings mappingNode `json:"mappings"`
		}
		require.NoError(t, json.Unmarshal(body, &def))

		raw, err := json.Marshal(doc)
		require.NoError(t, err)
		var fields map[string]any
		require.NoError(t, json.Unmarshal(raw, &fields))

		assertMapped(t, index, def.Mappings, fields)
	}
}

type mappingNode struct {
	Properties map[string]mappingNode `json:"properties"`
	Analyzer   string                 `json:"analyzer"`
	Type       string                 `json:"type"`
}

func assertMapped(t *testing.T, path string, node mappingNode, fields map[string]any) {
	t.Helper()
	for name, value := range fields {
		child, ok := node.Properties[name]
		if !assert.True(t, ok, "%s.%s is not mapped", path, name) {
			continue
		}
		if child.Type == "text" {
			assert.Equal(t, "ru_en", child.Analyzer, "%s.%s analyzer", path, name)
		}
		if list, ok := value.([]any); ok && len(list) > 0 {
			if nested, ok := list[0].(map[string]any); ok {
				assertMapped(t, path+"."+name, child, nested)
			}
		}
	}
}

func TestPublisher_EnsureIndexCreatesOnce(t *testing.T) {
	cluster := newFakeCluster()
	p := newTestPublisher(t, cluster, 500)
	ctx := context.Background()

	require.NoError(t, p.EnsureIndex(ctx, domain.IndexMovies))
	require.Contains(t, cluster.indices, domain.IndexMovies)

	created := cluster.indices[domain.IndexMovies]
	assert.Contains(t, string(created), `"ru_en"`)
	assert.Contains(t, string(created), `"raw"`)

	// Second call sees the index and does not recreate it.
	cluster.indices[domain.IndexMovies] = []byte("kept")
	require.NoError(t, p.EnsureIndex(ctx, domain.IndexMovies))
	assert.Equal(t, []byte("kept"), cluster.indices[domain.IndexMovies])
}

func TestPublisher_EnsureIndexAlreadyExistsRace(t *testing.T) {
	cluster := newFakeCluster()
	cluster.racing = true
	p := newTestPublisher(t, cluster, 500)

	assert.NoError(t, p.EnsureIndex(context.Background(), domain.IndexGenres))
}

func TestPublisher_EnsureUnknownIndex(t *testing.T) {
	p := newTestPublisher(t, newFakeCluster(), 500)

	err := p.EnsureIndex(context.Background(), "films")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPublisher_PublishEmpty(t *testing.T) {
	cluster := newFakeCluster()
	p := newTestPublisher(t, cluster, 500)

	res, err := p.Publish(context.Background(), domain.IndexGenres, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PublishResult{}, res)
	assert.Zero(t, cluster.bulks)
}

func TestPublisher_PublishSplitsIntoBulks(t *testing.T) {
	cluster := newFakeCluster()
	p := newTestPublisher(t, cluster, 2)

	res, err := p.Publish(context.Background(), domain.IndexGenres, genres(5))
	require.NoError(t, err)
	assert.Equal(t, domain.PublishResult{Submitted: 5, Acknowledged: 5}, res)
	assert.Equal(t, 3, cluster.bulks)
	assert.Len(t, cluster.docs[domain.IndexGenres], 5)

	stored := cluster.docs[domain.IndexGenres]["00000000-0000-4000-8000-000000000001"]
	assert.JSONEq(t, `{"uuid":"00000000-0000-4000-8000-000000000001","name":"Genre 1","description":null}`, string(stored))
}

func TestPublisher_RepublishOverwrites(t *testing.T) {
	cluster := newFakeCluster()
	p := newTestPublisher(t, cluster, 500)
	ctx := context.Background()

	docs := genres(2)
	_, err := p.Publish(ctx, domain.IndexGenres, docs)
	require.NoError(t, err)

	docs[0].(*domain.GenreDocument).Name = "Renamed"
	res, err := p.Publish(ctx, domain.IndexGenres, docs)
	require.NoError(t, err)
	assert.True(t, res.Complete())
	assert.Len(t, cluster.docs[domain.IndexGenres], 2)
	assert.Contains(t, string(cluster.docs[domain.IndexGenres][docs[0].DocumentID()]), "Renamed")
}

func TestPublisher_PartialAcknowledgement(t *testing.T) {
	cluster := newFakeCluster()
	docs := genres(3)
	cluster.reject[docs[1].DocumentID()] = true
	p := newTestPublisher(t, cluster, 500)

	res, err := p.Publish(context.Background(), domain.IndexGenres, docs)
	require.NoError(t, err)
	assert.Equal(t, domain.PublishResult{Submitted: 3, Acknowledged: 2}, res)
	assert.False(t, res.Complete())
}

func TestPublisher_BulkRequestFailure(t *testing.T) {
	cluster := newFakeCluster()
	cluster.failBulk = true
	p := newTestPublisher(t, cluster, 500)

	_, err := p.Publish(context.Background(), domain.IndexGenres, genres(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientIO)
	assert.Contains(t, err.Error(), "primary shard is not active")
}

func TestPublisher_HealthCheck(t *testing.T) {
	p := newTestPublisher(t, newFakeCluster(), 500)
	assert.NoError(t, p.HealthCheck(context.Background()))

	down, err := NewPublisher(DefaultConfig("http://127.0.0.1:1"), nil)
	require.NoError(t, err)
	err = down.HealthCheck(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransientIO)
}
