package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
)

func load(t *testing.T, env map[string]string, files map[string]string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	if env == nil {
		env = map[string]string{}
	}
	return Load(Options{Paths: []string{dir}, Env: env})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Extractor.ChunkSize)
	assert.Equal(t, 100, cfg.Extractor.FetchSize)
	assert.Equal(t, time.Second, cfg.Extractor.Interval())
	assert.Equal(t, 500, cfg.Elasticsearch.BulkSize)

	assert.Equal(t, 100*time.Millisecond, cfg.Retry.Initial)
	assert.Equal(t, 2.0, cfg.Retry.Factor)
	assert.Equal(t, 10*time.Second, cfg.Retry.Max)
	assert.Zero(t, cfg.Retry.MaxAttempts)

	assert.Equal(t, CheckpointFile, cfg.Checkpoint.Backend)
	assert.Equal(t, "state/checkpoints.json", cfg.Checkpoint.Path)
	assert.Equal(t, "default", cfg.Checkpoint.Namespace)
	assert.Equal(t, LockNone, cfg.Lock.Backend)
	assert.Equal(t, "coordinator:default", cfg.LockName())

	assert.Equal(t, "INFO", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, DevelopmentJWTSecret, cfg.HTTP.JWTSecret)
	assert.Empty(t, cfg.HTTP.AllowedOrigins)

	assert.Equal(t, "postgres://app@localhost:5432/movies_database?sslmode=disable", cfg.PostgresURL())
	assert.Equal(t, "content", cfg.Postgres.Schema)
	assert.Equal(t, "http://localhost:9200", cfg.ElasticsearchURL())
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"POSTGRES_DB":       "movies",
		"POSTGRES_USER":     "etl",
		"POSTGRES_PASSWORD": "p@ss word",
		"POSTGRES_HOST":     "db",
		"POSTGRES_PORT":     "6432",
		"ES_HOST":           "es",
		"ES_PORT":           "9201",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "postgres://etl:p%40ss%20word@db:6432/movies?sslmode=disable", cfg.PostgresURL())
	assert.Equal(t, "http://es:9201", cfg.ElasticsearchURL())
}

func TestLoad_URLsWinOverParts(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"DATABASE_URL":  "postgres://u:p@pg:5432/x",
		"POSTGRES_HOST": "ignored",
		"ES_URL":        "https://search.internal:443",
		"ES_HOST":       "ignored",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@pg:5432/x", cfg.PostgresURL())
	assert.Equal(t, "https://search.internal:443", cfg.ElasticsearchURL())
}

func TestLoad_SettingsINI(t *testing.T) {
	cfg, err := load(t, nil, map[string]string{
		"settings.ini": "[Extractor]\nchunk_size = 250\nfetch_size = 50\npause_between = 5\n\n[Log]\nlog_level = DEBUG\n",
	})
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Extractor.ChunkSize)
	assert.Equal(t, 50, cfg.Extractor.FetchSize)
	assert.Equal(t, 5*time.Second, cfg.Extractor.Interval())
	assert.Equal(t, "DEBUG", cfg.Log.Level)
}

func TestLoad_SettingsYAMLAndEnvPrecedence(t *testing.T) {
	yaml := `
extractor:
  chunk_size: 300
  fetch_size: 30
checkpoint:
  backend: redis
  namespace: blue
redis:
  url: redis://cache:6379/2
lock:
  backend: redis
  ttl: 45s
retry:
  max_attempts: 7
http:
  allowed_origins:
    - https://ops.example.com
`
	cfg, err := load(t, map[string]string{
		"EXTRACTOR_FETCH_SIZE": "60",
		"LOG_LEVEL":            "warning",
		"LOG_FORMAT":           "json",
	}, map[string]string{"settings.yaml": yaml})
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.Extractor.ChunkSize)
	assert.Equal(t, 60, cfg.Extractor.FetchSize, "environment beats the settings file")
	assert.Equal(t, CheckpointRedis, cfg.Checkpoint.Backend)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
	assert.Equal(t, "coordinator:blue", cfg.LockName())
	assert.Equal(t, 45*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvLists(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"CORS_ALLOWED_ORIGINS": "https://a.example.com, https://b.example.com",
		"EXTRACTOR_PAGE_SIZE":  "20",
		"RETRY_INITIAL":        "250ms",
		"JWT_SECRET":           "s3cret",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 20, cfg.Extractor.ChunkSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Initial)
	assert.Equal(t, "s3cret", cfg.HTTP.JWTSecret)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "nope.yaml"), Env: map[string]string{}})
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "zero chunk", env: map[string]string{"EXTRACTOR_CHUNK_SIZE": "0"}, want: "extractor.chunk_size"},
		{name: "negative fetch", env: map[string]string{"EXTRACTOR_FETCH_SIZE": "-1"}, want: "extractor.fetch_size"},
		{name: "redis checkpoints without url", env: map[string]string{"CHECKPOINT_BACKEND": "redis"}, want: "redis.url"},
		{name: "unknown checkpoint backend", env: map[string]string{"CHECKPOINT_BACKEND": "s3"}, want: "checkpoint.backend"},
		{name: "unknown lock backend", env: map[string]string{"LOCK_BACKEND": "zookeeper"}, want: "lock.backend"},
		{name: "redis lock without url", env: map[string]string{"LOCK_BACKEND": "redis"}, want: "redis.url"},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "chatty"}, want: "log level"},
		{name: "bad log format", env: map[string]string{"LOG_FORMAT": "xml"}, want: "log.format"},
		{name: "shrinking backoff", env: map[string]string{"RETRY_FACTOR": "0.5"}, want: "retry.factor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.env, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "WARNING", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "stream", "_film_modified")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"stream":"_film_modified"`)
	assert.Contains(t, out, `"service":"cinema-etl"`)

	buf.Reset()
	NewLogger(LogConfig{Level: "DEBUG", Format: "text"}, &buf).Debug("visible")
	assert.True(t, strings.Contains(buf.String(), "msg=visible"))
}

func TestCheckpointPath(t *testing.T) {
	cfg := &Config{Checkpoint: CheckpointConfig{Path: "state/checkpoints.json", Namespace: "default"}}
	assert.Equal(t, "state/checkpoints.json", cfg.CheckpointPath())

	cfg.Checkpoint.Namespace = "persons"
	assert.Equal(t, "state/checkpoints.persons.json", cfg.CheckpointPath())

	cfg.Checkpoint.Path = "/var/lib/etl/state"
	assert.Equal(t, "/var/lib/etl/state.persons", cfg.CheckpointPath())
}
