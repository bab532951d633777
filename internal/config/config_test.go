package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "synthetic", cfg.Prices.Source)
	assert.Equal(t, int64(1), cfg.Prices.Seed)
	assert.True(t, cfg.Worker.Enabled)
	assert.Equal(t, 60, cfg.Worker.IntervalSec)
	assert.False(t, cfg.Database.Configured())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9090
  mode: release
database:
  host: db.internal
  dbname: tracker
  user: tracker
  password: pw
prices:
  source: live
auth:
  writer_secret: s3cret
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "live", cfg.Prices.Source)
	assert.Equal(t, "s3cret", cfg.Auth.WriterSecret)
	assert.True(t, cfg.Database.Configured())
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal")
	assert.Contains(t, cfg.Database.DSN(), "dbname=tracker")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("DB_HOST", "env-db")
	t.Setenv("DB_NAME", "env-name")
	t.Setenv("WRITER_SECRET", "env-secret")
	t.Setenv("PRICE_SOURCE", "live")
	t.Setenv("PRICE_SEED", "99")
	t.Setenv("WORKER_ENABLED", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-db", cfg.Database.Host)
	assert.Equal(t, "env-name", cfg.Database.DBName)
	assert.True(t, cfg.Database.Configured())
	assert.Equal(t, "env-secret", cfg.Auth.WriterSecret)
	assert.Equal(t, "live", cfg.Prices.Source)
	assert.Equal(t, int64(99), cfg.Prices.Seed)
	assert.False(t, cfg.Worker.Enabled)
}

func TestMalformedFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
