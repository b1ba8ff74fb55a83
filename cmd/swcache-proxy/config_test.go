package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, ":10080", cfg.ListenAddr)
	assert.Equal(t, "memory", cfg.Storage)
	assert.Equal(t, 30*time.Second, cfg.CheckInterval)
	assert.Equal(t, int64(10485760), cfg.MaxBodyBytes)

	cfg, err = loadConfig(map[string]string{
		"SWCACHE_STORAGE":           "sqlite",
		"SWCACHE_SQLITE_PATH":       "/tmp/cache.db",
		"SWCACHE_UPSTREAM":          "https://api.ordohub.com",
		"SWCACHE_CHECK_INTERVAL":    "5s",
		"SWCACHE_DEDUPE_CONCURRENT": "true",
		"STORAGE":                   "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage)
	assert.Equal(t, "/tmp/cache.db", cfg.SQLitePath)
	assert.Equal(t, "https://api.ordohub.com", cfg.Upstream)
	assert.Equal(t, 5*time.Second, cfg.CheckInterval)
	assert.True(t, cfg.DedupeConcurrent)

	_, err = loadConfig(map[string]string{"SWCACHE_STORAGE": "redis"})
	assert.Error(t, err)

	_, err = loadConfig(map[string]string{"SWCACHE_CHECK_INTERVAL": "soon"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger(config{LogLevel: "debug"})
	assert.NoError(t, err)

	_, err = newLogger(config{LogLevel: "chatty"})
	assert.Error(t, err)
}
