// Package config loads process settings from defaults, an optional
// settings file and the environment, in increasing precedence.
package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
)

// Checkpoint backends
const (
	CheckpointFile  = "file"
	CheckpointRedis = "redis"
)

// Lock backends
const (
	LockNone     = "none"
	LockRedis    = "redis"
	LockPostgres = "postgres"
)

// Config is the full process configuration
type Config struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Extractor     ExtractorConfig     `mapstructure:"extractor"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Checkpoint    CheckpointConfig    `mapstructure:"checkpoint"`
	Lock          LockConfig          `mapstructure:"lock"`
	Log           LogConfig           `mapstructure:"log"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// PostgresConfig describes the source database. URL wins over the parts.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DB       string `mapstructure:"db"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	Schema   string `mapstructure:"schema"`
}

// ElasticsearchConfig describes the target cluster. URL wins over host and port.
type ElasticsearchConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	BulkSize int    `mapstructure:"bulk_size"`
}

// RedisConfig is only needed by the redis checkpoint and lock backends
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// ExtractorConfig sizes the extraction loop
type ExtractorConfig struct {
	ChunkSize    int     `mapstructure:"chunk_size"`
	FetchSize    int     `mapstructure:"fetch_size"`
	PauseBetween float64 `mapstructure:"pause_between"` // seconds
}

// Interval returns the pause between cycles.
func (e ExtractorConfig) Interval() time.Duration {
	return time.Duration(e.PauseBetween * float64(time.Second))
}

// RetryConfig mirrors retry.Config
type RetryConfig struct {
	Initial     time.Duration `mapstructure:"initial"`
	Factor      float64       `mapstructure:"factor"`
	Max         time.Duration `mapstructure:"max"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// CheckpointConfig selects where checkpoints live
type CheckpointConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// LockConfig selects the coordinator lock
type LockConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// LogConfig controls the slog handler
type LogConfig struct {
	Level  string `mapstructure:"log_level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig configures the status API
type HTTPConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DevelopmentJWTSecret is the fallback token secret for local runs
const DevelopmentJWTSecret = "development-secret-change-in-production"

// Options tune Load
type Options struct {
	// File is an explicit settings file; empty means search for settings.{yaml,yml,json,toml,ini} in the Paths
	File string
	// Paths searched when File is empty
	Paths []string
	// Env overrides os lookups (tests)
	Env map[string]string
}

// Load builds the configuration.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := bindEnv(v, opts.Env); err != nil {
		return nil, err
	}

	file := opts.File
	if file == "" {
		file = findSettings(opts.Paths)
	}
	if file != "" {
		if err := readSettings(v, file); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	cfg.HTTP.AllowedOrigins = splitList(cfg.HTTP.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.db", "movies_database")
	v.SetDefault("postgres.user", "app")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.schema", "content")

	v.SetDefault("elasticsearch.url", "")
	v.SetDefault("elasticsearch.host", "localhost")
	v.SetDefault("elasticsearch.port", 9200)
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.bulk_size", 500)

	v.SetDefault("redis.url", "")

	v.SetDefault("extractor.chunk_size", 1000)
	v.SetDefault("extractor.fetch_size", 100)
	v.SetDefault("extractor.pause_between", 1)

	v.SetDefault("retry.initial", 100*time.Millisecond)
	v.SetDefault("retry.factor", 2.0)
	v.SetDefault("retry.max", 10*time.Second)
	v.SetDefault("retry.max_attempts", 0)

	v.SetDefault("checkpoint.backend", CheckpointFile)
	v.SetDefault("checkpoint.path", "state/checkpoints.json")
	v.SetDefault("checkpoint.namespace", "default")

	v.SetDefault("lock.backend", LockNone)
	v.SetDefault("lock.ttl", 30*time.Second)

	v.SetDefault("log.log_level", "INFO")
	v.SetDefault("log.format", "text")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.jwt_secret", DevelopmentJWTSecret)
	v.SetDefault("http.allowed_origins", []string{})
}

// envAliases are the variable names used by existing deployments, bound
// in addition to the derived SECTION_KEY names.
var envAliases = map[string][]string{
	"elasticsearch.bulk_size": {"ES_BULK_SIZE"},
	"elasticsearch.host":      {"ES_HOST"},
	"elasticsearch.password":  {"ES_PASSWORD"},
	"elasticsearch.port":      {"ES_PORT"},
	"elasticsearch.url":       {"ES_URL"},
	"elasticsearch.username":  {"ES_USERNAME"},
	"extractor.chunk_size":    {"EXTRACTOR_PAGE_SIZE"},
	"http.allowed_origins":    {"CORS_ALLOWED_ORIGINS"},
	"http.jwt_secret":         {"JWT_SECRET"},
	"http.port":               {"PORT"},
	"log.log_level":           {"LOG_LEVEL"},
	"postgres.url":            {"DATABASE_URL"},
}

func bindEnv(v *viper.Viper, env map[string]string) error {
	keys := v.AllKeys()
	slices.Sort(keys)

	for _, key := range keys {
		names := []string{strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		names = append(names, envAliases[key]...)

		if env != nil {
			// Explicit maps are applied directly, first name wins
			for _, name := range names {
				if value, ok := env[name]; ok && value != "" {
					v.Set(key, value)
					break
				}
			}
			continue
		}

		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var problems []string

	if c.Extractor.ChunkSize <= 0 {
		problems = append(problems, "extractor.chunk_size must be positive")
	}
	if c.Extractor.FetchSize <= 0 {
		problems = append(problems, "extractor.fetch_size must be positive")
	}
	if c.Extractor.PauseBetween < 0 {
		problems = append(problems, "extractor.pause_between must not be negative")
	}
	if c.Elasticsearch.BulkSize <= 0 {
		problems = append(problems, "elasticsearch.bulk_size must be positive")
	}
	if c.Retry.Factor < 1 {
		problems = append(problems, "retry.factor must be at least 1")
	}

	switch c.Checkpoint.Backend {
	case CheckpointFile:
		if c.Checkpoint.Path == "" {
			problems = append(problems, "checkpoint.path is required for the file backend")
		}
	case CheckpointRedis:
		if c.Redis.URL == "" {
			problems = append(problems, "redis.url is required for the redis checkpoint backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown checkpoint.backend %q", c.Checkpoint.Backend))
	}

	switch c.Lock.Backend {
	case LockNone, LockPostgres:
	case LockRedis:
		if c.Redis.URL == "" {
			problems = append(problems, "redis.url is required for the redis lock backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown lock.backend %q", c.Lock.Backend))
	}
	if c.Lock.Backend != LockNone && c.Lock.TTL <= 0 {
		problems = append(problems, "lock.ttl must be positive")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		problems = append(problems, fmt.Sprintf("unknown log.format %q", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// PostgresURL returns the connection string, assembled from the parts when no URL is set.
func (c *Config) PostgresURL() string {
	if c.Postgres.URL != "" {
		return c.Postgres.URL
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Postgres.Host, strconv.Itoa(c.Postgres.Port)),
		Path:   "/" + c.Postgres.DB,
	}
	if c.Postgres.Password != "" {
		u.User = url.UserPassword(c.Postgres.User, c.Postgres.Password)
	} else if c.Postgres.User != "" {
		u.User = url.User(c.Postgres.User)
	}
	if c.Postgres.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.Postgres.SSLMode}}.Encode()
	}
	return u.String()
}

// ElasticsearchURL returns the node address.
func (c *Config) ElasticsearchURL() string {
	if c.Elasticsearch.URL != "" {
		return c.Elasticsearch.URL
	}
	return "http://" + net.JoinHostPort(c.Elasticsearch.Host, strconv.Itoa(c.Elasticsearch.Port))
}

// CheckpointPath returns the checkpoint file of the namespace. The
// default namespace uses the configured path as is; others get their
// name inserted before the extension.
func (c *Config) CheckpointPath() string {
	ns := c.Checkpoint.Namespace
	if ns == "" || ns == "default" {
		return c.Checkpoint.Path
	}
	ext := filepath.Ext(c.Checkpoint.Path)
	return strings.TrimSuffix(c.Checkpoint.Path, ext) + "." + ns + ext
}

// LockName is the coordinator lock guarding the checkpoint namespace.
func (c *Config) LockName() string {
	return "coordinator:" + c.Checkpoint.Namespace
}

// splitList accepts both a YAML list and a single comma separated string.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
