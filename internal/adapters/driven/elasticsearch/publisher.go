// Package elasticsearch provisions the search indices and bulk-upserts documents.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.IndexPublisher = (*Publisher)(nil)

// Config holds Elasticsearch connection settings
type Config struct {
	// URL of one cluster node (http://host:9200)
	URL string

	Username string
	Password string

	// BulkSize is the number of documents per _bulk request
	BulkSize int

	// Transport overrides the HTTP transport (tests)
	Transport http.RoundTripper
}

// DefaultConfig returns the defaults for a single-node cluster
func DefaultConfig(url string) Config {
	return Config{
		URL:      url,
		BulkSize: 500,
	}
}

// Publisher implements IndexPublisher with the official v8 client.
// The client's own retries are disabled; callers wrap calls in their retry policy.
type Publisher struct {
	client   *elasticsearch.Client
	bulkSize int
	logger   *slog.Logger
}

// NewPublisher creates a publisher. No request is sent until the first call.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BulkSize <= 0 {
		cfg.BulkSize = DefaultConfig("").BulkSize
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{cfg.URL},
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    cfg.Transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Publisher{client: client, bulkSize: cfg.BulkSize, logger: logger}, nil
}

// EnsureIndex creates index with its fixed settings and mapping when absent.
// A concurrent creation by someone else counts as success.
func (p *Publisher) EnsureIndex(ctx context.Context, index string) error {
	res, err := p.client.Indices.Exists([]string{index}, p.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w: %w", index, domain.ErrTransientIO, err)
	}
	drain(res)

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("check index %s: %w: status %d", index, domain.ErrTransientIO, res.StatusCode)
	}

	body, err := IndexDefinition(index)
	if err != nil {
		return err
	}

	res, err = p.client.Indices.Create(index,
		p.client.Indices.Create.WithBody(bytes.NewReader(body)),
		p.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w: %w", index, domain.ErrTransientIO, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		var failure errorResponse
		_ = json.NewDecoder(res.Body).Decode(&failure)
		if failure.Error.Type == "resource_already_exists_exception" {
			return nil
		}
		return fmt.Errorf("create index %s: %w: %s %s", index, domain.ErrTransientIO, res.Status(), failure.Error.Reason)
	}

	p.logger.Info("index created", "index", index)
	return nil
}

// Publish upserts docs by id in bulk requests of at most BulkSize documents.
// Acknowledged counts the items answered with a 2xx status.
func (p *Publisher) Publish(ctx context.Context, index string, docs []domain.Document) (domain.PublishResult, error) {
	var result domain.PublishResult
	if len(docs) == 0 {
		return result, nil
	}

	for start := 0; start < len(docs); start += p.bulkSize {
		end := min(start+p.bulkSize, len(docs))
		batch, err := p.bulk(ctx, index, docs[start:end])
		if err != nil {
			return result, err
		}
		result = result.Add(batch)
	}

	p.logger.Debug("documents published",
		"index", index,
		"submitted", result.Submitted,
		"acknowledged", result.Acknowledged,
	)
	return result, nil
}

func (p *Publisher) bulk(ctx context.Context, index string, docs []domain.Document) (domain.PublishResult, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := bulkAction{Index: &bulkMeta{Index: index, ID: doc.DocumentID()}}
		if err := enc.Encode(meta); err != nil {
			return domain.PublishResult{}, fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(doc); err != nil {
			return domain.PublishResult{}, fmt.Errorf("encode document %s: %w", doc.DocumentID(), err)
		}
	}

	res, err := p.client.Bulk(bytes.NewReader(buf.Bytes()),
		p.client.Bulk.WithIndex(index),
		p.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("bulk %s: %w: %w", index, domain.ErrTransientIO, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		var failure errorResponse
		_ = json.NewDecoder(res.Body).Decode(&failure)
		return domain.PublishResult{}, fmt.Errorf("bulk %s: %w: %s %s", index, domain.ErrTransientIO, res.Status(), failure.Error.Reason)
	}

	var body bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return domain.PublishResult{}, fmt.Errorf("bulk %s: decode response: %w", index, err)
	}

	result := domain.PublishResult{Submitted: len(docs)}
	for _, item := range body.Items {
		for _, outcome := range item {
			if outcome.Status >= 200 && outcome.Status < 300 {
				result.Acknowledged++
				continue
			}
			p.logger.Warn("document rejected",
				"index", index,
				"id", outcome.ID,
				"status", outcome.Status,
				"error_type", outcome.Error.Type,
				"reason", outcome.Error.Reason,
			)
		}
	}
	result.Acknowledged = min(result.Acknowledged, result.Submitted)
	return result, nil
}

// HealthCheck pings the cluster.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	res, err := p.client.Ping(p.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w: %w", domain.ErrTransientIO, err)
	}
	drain(res)
	if res.IsError() {
		return fmt.Errorf("ping elasticsearch: %w: %s", domain.ErrTransientIO, res.Status())
	}
	return nil
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

type bulkAction struct {
	Index *bulkMeta `json:"index"`
}

type bulkMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkResponse struct {
	Errors bool                          `json:"errors"`
	Items  []map[string]bulkItemResponse `json:"items"`
}

type bulkItemResponse struct {
	ID     string     `json:"_id"`
	Status int        `json:"status"`
	Error  errorCause `json:"error"`
}

type errorResponse struct {
	Error  errorCause `json:"error"`
	Status int        `json:"status"`
}

type errorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}
