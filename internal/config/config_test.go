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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "dlm.license.events", cfg.Kafka.EventsTopic)
	assert.Equal(t, []string{"processing", "completed"}, cfg.Orders.FulfillOn)
	assert.Equal(t, "disabled", cfg.Orders.RevokeStatus)
	assert.Equal(t, 300*time.Millisecond, cfg.Delivery.BatchWait)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, 3, cfg.Providers[0].Breaker.FailThreshold)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
licenses:
  allow_duplicates: true
rate_limit:
  rps: 5
`), 0o600))
	t.Setenv("DLM_SECURITY_HASH_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Licenses.AllowDuplicates)
	assert.Equal(t, 5, cfg.RateLimit.RPS)
	assert.Equal(t, "from-env", cfg.Security.HashSecret)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}
