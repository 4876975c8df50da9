package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 24*time.Hour, cfg.DedupTTL)
	assert.Equal(t, "sender", cfg.RateLimitScope)
	assert.Equal(t, 3, cfg.WorkerMaxAttempts)
	assert.Equal(t, int64(1<<20), cfg.WebhookMaxBodyBytes)
	assert.InDelta(t, 0.35, cfg.RAGScoreThreshold, 1e-9)
	assert.Equal(t, "@every 15s", cfg.OutboxSweepSchedule)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("WORKER_MAX_ATTEMPTS", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("RATE_LIMIT_SCOPE", "conversation")
	t.Setenv("REDIS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.ServerPort)
	assert.Equal(t, 5, cfg.WorkerMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, "conversation", cfg.RateLimitScope)
	assert.False(t, cfg.RedisEnabled)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("QUOTA_DEFAULT_DAILY_LIMIT: 42\nOUTBOUND_PROVIDER: 360dialog\n"), 0o600))
	t.Setenv("RELAY_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.QuotaDefaultDailyLimit)
	assert.Equal(t, "360dialog", cfg.OutboundProvider)
}

func TestLoad_InvalidScope(t *testing.T) {
	t.Setenv("RATE_LIMIT_SCOPE", "global")

	_, err := Load()
	assert.Error(t, err)
}
