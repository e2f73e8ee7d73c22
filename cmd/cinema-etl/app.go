package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/cinema-etl/internal/adapters/driven/auth"
	"github.com/custodia-labs/cinema-etl/internal/adapters/driven/elasticsearch"
	"github.com/custodia-labs/cinema-etl/internal/adapters/driven/file"
	"github.com/custodia-labs/cinema-etl/internal/adapters/driven/postgres"
	redisadapter "github.com/custodia-labs/cinema-etl/internal/adapters/driven/redis"
	"github.com/custodia-labs/cinema-etl/internal/adapters/driving/http"
	"github.com/custodia-labs/cinema-etl/internal/config"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driven"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driving"
	"github.com/custodia-labs/cinema-etl/internal/core/services"
	"github.com/custodia-labs/cinema-etl/internal/retry"
)

// app holds the wired process components. Fields stay nil when the
// command did not ask for them.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *postgres.DB
	redisClient *redis.Client
	publisher   *elasticsearch.Publisher
	checkpoints driven.CheckpointStore
	lock        driven.DistributedLock
	coordinator *services.Coordinator
	authService driving.AuthService

	// retry wraps every startup connection; dial and ping are swapped in tests.
	retry        retry.Policy
	dialPostgres func(ctx context.Context, cfg postgres.Config) (*postgres.DB, error)
	pingRedis    func(ctx context.Context, client *redis.Client) error

	closers []func() error
}

// needs selects which components newApp connects.
type needs struct {
	source      bool
	index       bool
	checkpoints bool
	lock        bool
}

func (n needs) coordinator() bool {
	return n.source && n.index && n.checkpoints
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, n needs) (*app, error) {
	a := baseApp(cfg, logger)

	if err := a.connect(ctx, n); err != nil {
		a.Close()
		return nil, err
	}

	if n.coordinator() {
		coord, err := services.NewCoordinator(services.CoordinatorConfig{
			Source:      postgres.NewChangeSource(a.db, cfg.Postgres.Schema, logger),
			Publisher:   a.publisher,
			Checkpoints: a.checkpoints,
			Enricher:    services.NewEnricher(logger),
			Retry:       a.retry,
			PageSize:    cfg.Extractor.ChunkSize,
			FetchSize:   cfg.Extractor.FetchSize,
			Interval:    cfg.Extractor.Interval(),
			Logger:      logger,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.coordinator = coord
	}

	return a, nil
}

// baseApp returns an unconnected app with production dialers.
func baseApp(cfg *config.Config, logger *slog.Logger) *app {
	a := &app{
		cfg:          cfg,
		logger:       logger,
		authService:  services.NewAuthService(auth.NewAdapter(cfg.HTTP.JWTSecret)),
		dialPostgres: postgres.Connect,
		pingRedis:    redisPing,
	}
	a.retry = retryPolicy(a)
	return a
}

func redisPing(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// connect opens the backends n asks for. A backend that is down at
// startup is retried under the app policy until it answers or ctx ends.
func (a *app) connect(ctx context.Context, n needs) error {
	cfg := a.cfg

	needRedis := (n.checkpoints && cfg.Checkpoint.Backend == config.CheckpointRedis) ||
		(n.lock && cfg.Lock.Backend == config.LockRedis)
	if needRedis {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		a.redisClient = redis.NewClient(opts)
		a.closers = append(a.closers, a.redisClient.Close)
		err = a.retry.Do(ctx, "connect redis", func(ctx context.Context) error {
			return a.pingRedis(ctx, a.redisClient)
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.logger.Info("connected to redis")
	}

	needDB := n.source || (n.lock && cfg.Lock.Backend == config.LockPostgres)
	if needDB {
		dbCfg := postgres.DefaultConfig(cfg.PostgresURL())
		dbCfg.Schema = cfg.Postgres.Schema
		db, err := retry.Value(ctx, a.retry, "connect postgres", func(ctx context.Context) (*postgres.DB, error) {
			return a.dialPostgres(ctx, dbCfg)
		})
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		a.logger.Info("connected to postgres", "schema", dbCfg.Schema)
	}

	if n.index {
		esCfg := elasticsearch.DefaultConfig(cfg.ElasticsearchURL())
		esCfg.Username = cfg.Elasticsearch.Username
		esCfg.Password = cfg.Elasticsearch.Password
		esCfg.BulkSize = cfg.Elasticsearch.BulkSize
		publisher, err := elasticsearch.NewPublisher(esCfg, a.logger)
		if err != nil {
			return err
		}
		a.publisher = publisher
	}

	if n.checkpoints {
		switch cfg.Checkpoint.Backend {
		case config.CheckpointRedis:
			store := redisadapter.NewCheckpointStore(a.redisClient, cfg.Checkpoint.Namespace)
			a.checkpoints = store
			a.logger.Info("checkpoint store", "backend", "redis", "key", store.Key())
		default:
			store := file.NewCheckpointStore(nil, cfg.CheckpointPath())
			a.checkpoints = store
			a.logger.Info("checkpoint store", "backend", "file", "path", store.Path())
		}
	}

	if n.lock {
		switch cfg.Lock.Backend {
		case config.LockRedis:
			a.lock = redisadapter.NewLock(a.redisClient)
		case config.LockPostgres:
			a.lock = postgres.NewAdvisoryLock(a.db)
		}
	}

	return nil
}

// dependencies lists what /ready pings.
func (a *app) dependencies() map[string]http.Pinger {
	deps := make(map[string]http.Pinger)
	if a.db != nil {
		deps["postgres"] = a.db
	}
	if a.publisher != nil {
		deps["elasticsearch"] = http.PingFunc(a.publisher.HealthCheck)
	}
	if a.redisClient != nil {
		deps["redis"] = http.PingFunc(func(ctx context.Context) error {
			return a.redisClient.Ping(ctx).Err()
		})
	}
	if a.lock != nil {
		deps["lock"] = a.lock
	}
	return deps
}

func (a *app) httpConfig() http.Config {
	cfg := http.DefaultConfig()
	cfg.Host = a.cfg.HTTP.Host
	cfg.Port = a.cfg.HTTP.Port
	cfg.Version = version
	cfg.AllowedOrigins = a.cfg.HTTP.AllowedOrigins
	return cfg
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func retryPolicy(a *app) retry.Policy {
	return retry.NewBackoff(retry.Config{
		Initial:     a.cfg.Retry.Initial,
		Factor:      a.cfg.Retry.Factor,
		Max:         a.cfg.Retry.Max,
		MaxAttempts: a.cfg.Retry.MaxAttempts,
	}, retry.WithLogger(a.logger))
}
