package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEWAY_AUTH_SECRET", "env-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.Auth.Secret)
	assert.Equal(t, 5*time.Minute, cfg.Auth.ReplayWindow)
	assert.Equal(t, 30*time.Second, cfg.Auth.ClockSkew)
	assert.Equal(t, []string{"tradingview", "generic"}, cfg.Auth.AllowedSources)
	assert.Equal(t, time.Hour, cfg.Idempotency.TTL)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, time.Second, cfg.RateLimit.Window)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 65536, cfg.Ingestion.MaxPayloadBytes)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 1000, cfg.NATS.BufferCapacity)
	assert.Equal(t, 30*time.Second, cfg.NATS.BufferMaxAge)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMissingSecret(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.secret")
}

func TestLoadFromFile(t *testing.T) {
	content := []byte(`
server:
  port: 9090
auth:
  secret: file-secret
  replay_window: 2m
  allowed_sources:
    - tradingview
ratelimit:
  requests: 50
  window: 5s
nats:
  url: nats://broker:4222
normalization:
  strict_sources:
    - tradingview
logging:
  level: debug
  format: text
`)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "file-secret", cfg.Auth.Secret)
	assert.Equal(t, 2*time.Minute, cfg.Auth.ReplayWindow)
	assert.Equal(t, []string{"tradingview"}, cfg.Auth.AllowedSources)
	assert.Equal(t, 50, cfg.RateLimit.Requests)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, []string{"tradingview"}, cfg.Normalization.StrictSources)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestEnvOverridesFile(t *testing.T) {
	content := []byte(`
auth:
  secret: file-secret
`)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("GATEWAY_AUTH_SECRET", "env-wins")
	t.Setenv("GATEWAY_SERVER_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-wins", cfg.Auth.Secret)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
