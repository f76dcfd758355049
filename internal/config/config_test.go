package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/knitstore/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.IndexBackendText, cfg.Store.IndexBackend)
	assert.Equal(t, 200, cfg.Store.MaxDeltaChain)
	assert.True(t, cfg.Store.Annotated)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestRedisConfigAddr(t *testing.T) {
	rc := config.RedisConfig{Host: "cache.internal", Port: 6380}
	assert.Equal(t, "cache.internal:6380", rc.Addr())
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	cfg, err := config.Load("/nonexistent/knitctl.yaml")
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Store.MaxDeltaChain)
}
