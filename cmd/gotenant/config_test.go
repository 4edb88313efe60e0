package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goTenant/billing"
)

const configYAML = `
log:
  level: debug
  format: json
server:
  addr: ":9000"
  shutdown_timeout: 5s
storage:
  backend: sql
  dsn: tenants.db
engine:
  token:
    ttl: 2h
  billing:
    plans:
      - id: starter
        name: Starter
        type: flat
        price: 900
        currency: usd
        interval: month
        price_id: price_starter
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gotenant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	t.Setenv("GOTENANT_TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("GOTENANT_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")

	cfg, err := loadConfig(writeConfig(t, configYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sql", cfg.Storage.Backend)
	assert.Equal(t, "sqlite", cfg.Storage.Dialect)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
	assert.Equal(t, "sk_test_123", cfg.Stripe.SecretKey)

	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Engine.Token.Secret)
	assert.Equal(t, 2*time.Hour, cfg.Engine.Token.TTL)
	require.Len(t, cfg.Engine.Billing.Plans, 1)
	assert.Equal(t, billing.Flat, cfg.Engine.Billing.Plans[0].Type)
	assert.Equal(t, int64(900), cfg.Engine.Billing.Plans[0].Price)

	// untouched engine settings keep their defaults
	assert.Equal(t, "gt", cfg.Engine.RedisPrefix)
	assert.Equal(t, 6, cfg.Engine.TwoFactor.Digits)
}

func TestLoadConfigRejects(t *testing.T) {
	t.Setenv("GOTENANT_TOKEN_SECRET", "0123456789abcdef0123456789abcdef")

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, "storage:\n  backend: mongo\n"))
	assert.ErrorContains(t, err, "storage.backend")

	t.Setenv("GOTENANT_TOKEN_SECRET", "short")
	_, err = loadConfig(writeConfig(t, "log:\n  level: info\n"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("info", "json", os.Stderr)
	assert.NoError(t, err)

	_, err = newLogger("loud", "json", os.Stderr)
	assert.Error(t, err)

	_, err = newLogger("info", "xml", os.Stderr)
	assert.Error(t, err)
}
