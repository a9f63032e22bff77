package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_CreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	require.NoError(t, Save(DefaultConfig(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pool_size: 4")
	assert.Contains(t, string(data), "cooldown: 30s")
}

func TestSave_RoundTripThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Scheduler.PoolSize = 7
	cfg.Breaker.Cooldown = Duration(45 * time.Second)
	cfg.Retry.Strategy = "fixed"
	require.NoError(t, Save(cfg, path))

	loaded, err := Load("", path)
	require.NoError(t, err)

	assert.Equal(t, 7, loaded.Scheduler.PoolSize)
	assert.Equal(t, 45*time.Second, loaded.Breaker.Cooldown.Std())
	assert.Equal(t, "fixed", loaded.Retry.Strategy)
	assert.Len(t, loaded.Pipelines[DefaultPipelineName].Modules, 6)
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
