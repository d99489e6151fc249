package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "runhub-changes", cfg.Kafka.Topic)
	assert.Equal(t, "runhub-triggers", cfg.Kafka.GroupID)
	assert.Equal(t, "runhub-push", cfg.Push.Topic)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "Asia/Seoul", cfg.Scheduler.Timezone)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.GracePeriod)
	assert.Equal(t, 30, cfg.Limits.MaxFriends)
	assert.Equal(t, 100, cfg.Limits.LeaderboardSize)
}

func TestLoadAppliesDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "s3cr3t")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
postgres:
  user: runhub
  password: pw
  database: runhub
auth:
  jwt_secret: ${TEST_JWT_SECRET}
scheduler:
  enabled: true
  timezone: UTC
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "s3cr3t", cfg.Auth.JWTSecret)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)

	// Unset fields fall back to defaults.
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "runhub-changes", cfg.Kafka.Topic)
	assert.Equal(t, 20, cfg.Limits.SearchLimit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestPostgresConnectionString(t *testing.T) {
	pg := PostgresConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "runhub",
		Password: "pw",
		Database: "runhub",
		SSLMode:  "require",
	}
	assert.Equal(t, "postgres://runhub:pw@db.internal:5433/runhub?sslmode=require", pg.ConnectionString())

	pg.SSLMode = ""
	assert.Equal(t, "postgres://runhub:pw@db.internal:5433/runhub?sslmode=disable", pg.ConnectionString())
}
