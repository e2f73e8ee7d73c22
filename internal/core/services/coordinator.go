package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driven"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driving"
	"github.com/custodia-labs/cinema-etl/internal/retry"
)

// Ensure Coordinator implements SyncCoordinator
var _ driving.SyncCoordinator = (*Coordinator)(nil)

// Default extraction sizes
const (
	DefaultPageSize  = 1000
	DefaultFetchSize = 100
	DefaultInterval  = time.Second
)

// Coordinator runs the extraction loop over the tracked streams.
// For each stream it:
//  1. Reads the checkpoint (writing the sentinel when absent)
//  2. Polls one page of changed rows
//  3. Splits the page into sub-batches
//  4. Maps secondary rows to the films that embed them
//  5. Fetches payloads, builds documents and publishes them
//  6. Advances the checkpoint when every document was acknowledged
//
// A full page whose sub-batches all advanced is followed by another poll.
type Coordinator struct {
	source      driven.ChangeSource
	publisher   driven.IndexPublisher
	checkpoints driven.CheckpointStore
	enricher    *Enricher
	retry       retry.Policy
	streams     []domain.StreamDescriptor
	pageSize    int
	fetchSize   int
	interval    time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.RWMutex
	ensured   map[string]bool
	positions map[string]string
	status    map[string]*domain.StreamStatus
}

// CoordinatorConfig holds dependencies for Coordinator.
type CoordinatorConfig struct {
	Source      driven.ChangeSource
	Publisher   driven.IndexPublisher
	Checkpoints driven.CheckpointStore
	Enricher    *Enricher
	Retry       retry.Policy
	Streams     []domain.StreamDescriptor // defaults to domain.DefaultStreams()
	PageSize    int                       // rows per poll
	FetchSize   int                       // rows per sub-batch and keys per payload fetch
	Interval    time.Duration             // pause between cycles
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Source == nil || cfg.Publisher == nil || cfg.Checkpoints == nil {
		return nil, fmt.Errorf("%w: source, publisher and checkpoint store are required", domain.ErrInvalidInput)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	streams := cfg.Streams
	if len(streams) == 0 {
		streams = domain.DefaultStreams()
	}
	if err := domain.ValidateStreams(streams); err != nil {
		return nil, err
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	fetchSize := cfg.FetchSize
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	enricher := cfg.Enricher
	if enricher == nil {
		enricher = NewEnricher(logger)
	}

	policy := cfg.Retry
	if policy == nil {
		policy = retry.NewBackoff(retry.DefaultConfig(), retry.WithLogger(logger))
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	status := make(map[string]*domain.StreamStatus, len(streams))
	for _, s := range streams {
		status[s.CheckpointKey] = &domain.StreamStatus{Stream: s, State: domain.StreamStateIdle}
	}

	return &Coordinator{
		source:      cfg.Source,
		publisher:   cfg.Publisher,
		checkpoints: cfg.Checkpoints,
		enricher:    enricher,
		retry:       policy,
		streams:     streams,
		pageSize:    pageSize,
		fetchSize:   fetchSize,
		interval:    interval,
		logger:      logger,
		now:         now,
		ensured:     make(map[string]bool),
		positions:   make(map[string]string),
		status:      status,
	}, nil
}

// Streams returns the tracked streams in processing order.
func (c *Coordinator) Streams() []domain.StreamDescriptor {
	return append([]domain.StreamDescriptor(nil), c.streams...)
}

// Run executes cycles separated by the configured interval until ctx ends.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator starting",
		"streams", len(c.streams),
		"page_size", c.pageSize,
		"fetch_size", c.fetchSize,
		"interval", c.interval,
	)

	for {
		if _, err := c.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("coordinator stopped")
				return nil
			}
			return err
		}

		c.logger.Debug("pausing between cycles", "interval", c.interval)
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopped")
			return nil
		case <-time.After(c.interval):
		}
	}
}

// RunCycle walks every stream once, in order. A stream that fails is
// logged and the cycle moves on; only context cancellation aborts it.
func (c *Coordinator) RunCycle(ctx context.Context) ([]*domain.SyncResult, error) {
	results := make([]*domain.SyncResult, 0, len(c.streams))
	for _, stream := range c.streams {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := c.SyncStream(ctx, stream)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			c.logger.Error("stream failed", "stream", stream.String(), "checkpoint_key", stream.CheckpointKey, "error", err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// SyncStream drains one stream from its checkpoint.
func (c *Coordinator) SyncStream(ctx context.Context, stream domain.StreamDescriptor) (*domain.SyncResult, error) {
	start := c.now()
	logger := c.logger.With("stream", stream.String(), "checkpoint_key", stream.CheckpointKey)

	result := &domain.SyncResult{Stream: stream}
	err := c.syncStream(ctx, stream, logger, result)
	result.Duration = c.now().Sub(start).Seconds()

	c.finish(stream, result, err)
	if err != nil {
		return nil, err
	}

	logger.Info("stream synced",
		"since", result.Since,
		"checkpoint", result.Checkpoint,
		"rows", result.Stats.RowsPolled,
		"published", result.Stats.DocumentsPublished,
		"stalled", result.Stalled,
	)
	return result, nil
}

func (c *Coordinator) syncStream(ctx context.Context, stream domain.StreamDescriptor, logger *slog.Logger, result *domain.SyncResult) error {
	c.setState(stream, domain.StreamStatePolling)

	position, err := c.readCheckpoint(ctx, stream, logger, &result.Stats)
	if err != nil {
		return err
	}
	result.Since = position
	result.Checkpoint = position

	for {
		since, err := domain.ParseTimestamp(position)
		if err != nil {
			return fmt.Errorf("checkpoint %s: %w", stream.CheckpointKey, err)
		}

		c.setState(stream, domain.StreamStatePolling)
		chunk, err := retry.Value(ctx, c.retry, "poll "+stream.String(), func(ctx context.Context) (domain.ChangeChunk, error) {
			return c.source.PollChanged(ctx, stream, since, c.pageSize)
		})
		if err != nil {
			return err
		}
		result.Stats.RowsPolled += len(chunk)
		if len(chunk) == 0 {
			return nil
		}
		logger.Debug("changes polled", "since", position, "rows", len(chunk))

		for _, batch := range chunk.Split(c.fetchSize) {
			complete, err := c.processBatch(ctx, stream, batch, logger, &result.Stats)
			if err != nil {
				return err
			}
			if !complete {
				result.Stalled = true
				logger.Warn("publish incomplete, checkpoint held", "checkpoint", position)
				return nil
			}

			position = domain.FormatTimestamp(batch.MaxUpdatedAt())
			c.advance(ctx, stream, position, logger, &result.Stats)
			result.Checkpoint = position
		}

		if len(chunk) < c.pageSize {
			return nil
		}
	}
}

// processBatch publishes one sub-batch and reports whether every built
// document was acknowledged.
func (c *Coordinator) processBatch(ctx context.Context, stream domain.StreamDescriptor, batch domain.ChangeChunk, logger *slog.Logger, stats *domain.SyncStats) (bool, error) {
	c.setState(stream, domain.StreamStateEnriching)

	keys := batch.Keys()
	if stream.NeedsFanOut() {
		mapped, err := retry.Value(ctx, c.retry, "map "+stream.String(), func(ctx context.Context) ([]string, error) {
			return c.source.MapToAffectedAggregateKeys(ctx, stream, keys)
		})
		if err != nil {
			return false, err
		}
		keys = mapped
	}
	stats.AggregatesResolved += len(keys)
	if len(keys) == 0 {
		return true, nil
	}

	var records []domain.RawRecord
	for _, group := range domain.BatchKeys(keys, c.fetchSize) {
		recs, err := retry.Value(ctx, c.retry, "fetch "+string(stream.AggregateKind), func(ctx context.Context) ([]domain.RawRecord, error) {
			return c.source.FetchAggregatePayload(ctx, stream.AggregateKind, group)
		})
		if err != nil {
			return false, err
		}
		records = append(records, recs...)
	}

	for _, w := range missingAggregates(stream.AggregateKind, keys, records) {
		logger.Warn("aggregate missing from source", "kind", w.Kind, "key", w.Key, "error", w)
		stats.MissingAggregates++
	}

	docs, rejected := c.enricher.Build(stream.AggregateKind, records)
	stats.DocumentsBuilt += len(docs)
	stats.RecordsDropped += len(rejected)
	if len(docs) == 0 {
		return true, nil
	}

	if err := c.ensureIndex(ctx, stream.TargetIndex); err != nil {
		return false, err
	}

	c.setState(stream, domain.StreamStatePublishing)
	res, err := retry.Value(ctx, c.retry, "publish "+stream.TargetIndex, func(ctx context.Context) (domain.PublishResult, error) {
		return c.publisher.Publish(ctx, stream.TargetIndex, docs)
	})
	if err != nil {
		return false, err
	}
	stats.DocumentsPublished += res.Acknowledged

	if !res.Complete() {
		logger.Warn("partial publish",
			"index", stream.TargetIndex,
			"submitted", res.Submitted,
			"acknowledged", res.Acknowledged,
		)
		return false, nil
	}
	return true, nil
}

// EnsureIndices provisions every target index of the tracked streams.
func (c *Coordinator) EnsureIndices(ctx context.Context) error {
	for _, stream := range c.streams {
		if err := c.ensureIndex(ctx, stream.TargetIndex); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) ensureIndex(ctx context.Context, index string) error {
	c.mu.RLock()
	done := c.ensured[index]
	c.mu.RUnlock()
	if done {
		return nil
	}

	err := c.retry.Do(ctx, "ensure index "+index, func(ctx context.Context) error {
		return c.publisher.EnsureIndex(ctx, index)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.ensured[index] = true
	c.mu.Unlock()
	c.logger.Info("index ready", "index", index)
	return nil
}

// readCheckpoint returns the position to poll from. An absent key yields
// the sentinel, which is written immediately. A position held in memory
// after a failed write wins over an older stored value.
func (c *Coordinator) readCheckpoint(ctx context.Context, stream domain.StreamDescriptor, logger *slog.Logger, stats *domain.SyncStats) (string, error) {
	var (
		value string
		found bool
	)
	err := c.retry.Do(ctx, "read checkpoint "+stream.CheckpointKey, func(ctx context.Context) error {
		v, ok, err := c.checkpoints.Get(ctx, stream.CheckpointKey)
		value, found = v, ok
		return err
	})
	if err != nil {
		return "", err
	}

	if !found {
		value = domain.EpochSentinel
		logger.Info("checkpoint initialised", "value", value)
		if err := c.checkpoints.Set(ctx, stream.CheckpointKey, value); err != nil {
			logger.Error("failed to persist checkpoint", "value", value, "error", err)
		} else {
			stats.CheckpointsWritten++
		}
	} else {
		logger.Debug("checkpoint read", "value", value)
	}

	c.mu.RLock()
	mem, ok := c.positions[stream.CheckpointKey]
	c.mu.RUnlock()
	if ok && later(mem, value) {
		logger.Warn("stored checkpoint behind in-memory position", "stored", value, "position", mem)
		value = mem
	}
	return value, nil
}

// advance records the new position and persists it. A failed write is
// logged; the in-memory position is kept for the next poll.
func (c *Coordinator) advance(ctx context.Context, stream domain.StreamDescriptor, value string, logger *slog.Logger, stats *domain.SyncStats) {
	c.setState(stream, domain.StreamStateCheckpointing)

	c.mu.Lock()
	c.positions[stream.CheckpointKey] = value
	if st := c.status[stream.CheckpointKey]; st != nil {
		st.Checkpoint = value
	}
	c.mu.Unlock()

	if err := c.checkpoints.Set(ctx, stream.CheckpointKey, value); err != nil {
		logger.Error("failed to persist checkpoint", "value", value, "error", err)
		return
	}
	stats.CheckpointsWritten++
	logger.Debug("checkpoint advanced", "value", value)
}

// Status returns a snapshot of every stream, in processing order.
func (c *Coordinator) Status() []domain.StreamStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.StreamStatus, 0, len(c.streams))
	for _, s := range c.streams {
		st := *c.status[s.CheckpointKey]
		if st.LastCycleAt != nil {
			t := *st.LastCycleAt
			st.LastCycleAt = &t
		}
		out = append(out, st)
	}
	return out
}

func (c *Coordinator) setState(stream domain.StreamDescriptor, state domain.StreamState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.status[stream.CheckpointKey]; st != nil {
		st.State = state
	}
}

func (c *Coordinator) finish(stream domain.StreamDescriptor, result *domain.SyncResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.status[stream.CheckpointKey]
	if st == nil {
		return
	}
	now := c.now()
	st.State = domain.StreamStateIdle
	st.LastCycleAt = &now
	st.Totals.Add(result.Stats)
	if result.Checkpoint != "" {
		st.Checkpoint = result.Checkpoint
	}
	switch {
	case err != nil:
		st.Error = err.Error()
	case result.Stalled:
		st.Error = "publish incomplete"
	default:
		st.Error = ""
	}
}

func missingAggregates(kind domain.AggregateKind, keys []string, records []domain.RawRecord) []*domain.IntegrityWarning {
	found := make(map[string]struct{}, len(records))
	for _, r := range records {
		found[r.RecordKey()] = struct{}{}
	}
	var out []*domain.IntegrityWarning
	for _, key := range keys {
		if _, ok := found[key]; !ok {
			out = append(out, &domain.IntegrityWarning{Kind: kind, Key: key})
		}
	}
	return out
}

// later reports whether timestamp a is after b. Unparseable values never win.
func later(a, b string) bool {
	ta, err := domain.ParseTimestamp(a)
	if err != nil {
		return false
	}
	tb, err := domain.ParseTimestamp(b)
	if err != nil {
		return true
	}
	return ta.After(tb)
}

