package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/drip-engine/internal/sequence"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"
  cors_origins: ["https://app.example.com"]

database:
  url: "postgres://localhost/drip?sslmode=disable"

dispatcher:
  enabled: true
  poll_interval_seconds: 10
  batch_size: 25
  lease_seconds: 60
  stepping: skip_gaps
  from_email: "hello@example.com"

rollup:
  interval_seconds: 120

storage:
  type: "aws"
  s3_bucket: "drip-snapshots"
  dynamodb_table: "drip-metrics"

logging:
  level: debug
  redact_pii: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "postgres://localhost/drip?sslmode=disable", cfg.Database.URL)

	assert.True(t, cfg.Dispatcher.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Dispatcher.PollInterval())
	assert.Equal(t, 25, cfg.Dispatcher.BatchSize)
	assert.Equal(t, time.Minute, cfg.Dispatcher.Lease())
	policy, err := cfg.Dispatcher.SteppingPolicy()
	require.NoError(t, err)
	assert.Equal(t, sequence.SkipGaps, policy)

	assert.Equal(t, 2*time.Minute, cfg.Rollup.Interval())
	assert.Equal(t, "aws", cfg.Storage.Type)
	assert.Equal(t, "drip-snapshots", cfg.Storage.S3Bucket)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Redact())
	assert.False(t, cfg.Tracking.LinksEnabled())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 5*time.Second, cfg.Dispatcher.PollInterval())
	assert.Equal(t, 100, cfg.Dispatcher.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Dispatcher.Lease())
	assert.Equal(t, "strict", cfg.Dispatcher.Stepping)
	assert.Equal(t, 10*time.Minute, cfg.Rollup.LockTTL())
	assert.Equal(t, "us-west-2", cfg.SES.Region)
	assert.Equal(t, "us-west-2", cfg.Tracking.Region)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, 10*time.Minute, cfg.Recipients.CacheTTL())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redact())
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "dispatcher:\n  stepping: random\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "storage:\n  type: ftp\n"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://file/drip"
tracking:
  link_base_url: "https://t.example.com"
`)
	t.Setenv("DATABASE_URL", "postgres://env/drip")
	t.Setenv("TRACKING_LINK_SECRET", "s3cret")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TRACKING_QUEUE_URL", "https://sqs.us-west-2.amazonaws.com/1/drip-events")
	t.Setenv("LOG_REDACT_PII", "false")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/drip", cfg.Database.URL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.True(t, cfg.Tracking.Enabled)
	assert.Equal(t, "https://sqs.us-west-2.amazonaws.com/1/drip-events", cfg.Tracking.QueueURL)
	assert.False(t, cfg.Logging.Redact())
	assert.True(t, cfg.Tracking.LinksEnabled())
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestServerAddr(t *testing.T) {
	t.Setenv("SERVER_HOST", "")
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	assert.Equal(t, "127.0.0.1:8081", ServerConfig{Host: "127.0.0.1", Port: 8081}.Addr())
}
