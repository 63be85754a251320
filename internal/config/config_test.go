package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 0.7, cfg.Capacity.DistanceWeight)
	assert.Equal(t, 0.3, cfg.Capacity.ScoreWeight)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, "linear", cfg.Sync.Backoff)
	assert.Equal(t, 30*time.Second, cfg.Sync.BackoffStep)
	assert.Equal(t, 30*time.Second, cfg.Connectivity.ProbeInterval)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SIAGA_MATCH_RADIUS_KM", "12.5")
	t.Setenv("SIAGA_SYNC_BACKOFF", "exponential")
	t.Setenv("SIAGA_SYNC_BACKOFF_STEP", "2s")
	t.Setenv("SIAGA_SYNC_MAX_RETRIES", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12.5, cfg.Matching.RadiusKm)
	assert.Equal(t, "exponential", cfg.Sync.Backoff)
	assert.Equal(t, 2*time.Second, cfg.Sync.BackoffStep)
	assert.Equal(t, 3, cfg.Sync.MaxRetries, "unparseable values fall back to the default")
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("SIAGA_SYNC_BACKOFF", "random")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("SIAGA_SYNC_BACKOFF", "linear")
	t.Setenv("SIAGA_SYNC_MAX_RETRIES", "0")
	_, err = Load()
	assert.Error(t, err)
}
