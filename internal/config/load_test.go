package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("REPLICATE_API_TOKEN", "r8_test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 4, cfg.Worker.Count)
	assert.Equal(t, 64, cfg.Worker.QueueSize)
	assert.Equal(t, 0.5, cfg.Detector.MinConfidence)
	assert.Equal(t, int64(40_000_000), cfg.Server.MaxImagePixels)
	assert.Equal(t, 0.25, cfg.Crop.Margin)
	assert.Equal(t, 400, cfg.Crop.OutputSize)
	assert.Equal(t, "Emoji", cfg.Replicate.Style)
	assert.Equal(t, "r8_test", cfg.Replicate.APIToken)
	assert.Equal(t, time.Second, cfg.Replicate.PollInterval)
}

func TestLoadRequiresReplicateToken(t *testing.T) {
	t.Setenv("REPLICATE_API_TOKEN", "")
	t.Setenv("FACEMOJI_REPLICATE_API_TOKEN", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APIToken")
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "facemoji.yaml")
	content := []byte(`
worker:
  count: 2
  queue_size: 8
store:
  backend: redis
  redis_addr: localhost:6379
replicate:
  api_token: from-file
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("FACEMOJI_WORKER_COUNT", "6")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Worker.Count)
	assert.Equal(t, 8, cfg.Worker.QueueSize)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
	assert.Equal(t, "from-file", cfg.Replicate.APIToken)
}

func TestValidateRejectsRedisWithoutAddr(t *testing.T) {
	t.Setenv("REPLICATE_API_TOKEN", "r8_test")
	t.Setenv("FACEMOJI_STORE_BACKEND", "redis")

	_, err := Load("")
	require.Error(t, err)
}

func TestValidateRejectsJanitorShorterThanTaskTimeout(t *testing.T) {
	t.Setenv("REPLICATE_API_TOKEN", "r8_test")
	t.Setenv("FACEMOJI_JANITOR_MAX_AGE", "1m")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "janitor.max_age")
}

func TestValidateRejectsZeroMinConfidence(t *testing.T) {
	t.Setenv("REPLICATE_API_TOKEN", "r8_test")
	t.Setenv("FACEMOJI_DETECTOR_MIN_CONFIDENCE", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MinConfidence")
}
