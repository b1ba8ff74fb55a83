package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "SWCACHE_"

// config is loaded from SWCACHE_ prefixed environment variables.
type config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":10080"`

	// Upstream turns proxy into a reverse proxy for a single origin, e.g. https://api.ordohub.com.
	Upstream string `env:"UPSTREAM"`

	// PoliciesFile is a JSON array of policies, built-in table is used if empty.
	PoliciesFile string `env:"POLICIES_FILE"`

	// Storage is memory or sqlite.
	Storage        string `env:"STORAGE" envDefault:"memory"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"swcache.db"`
	SQLiteMaxPages int    `env:"SQLITE_MAX_PAGES"`
	MemoryMaxBytes int64  `env:"MEMORY_MAX_BYTES"`

	// SnapshotFile keeps memory storage between restarts.
	SnapshotFile string `env:"SNAPSHOT_FILE"`

	StaticDir      string `env:"STATIC_DIR"`
	PrecacheOrigin string `env:"PRECACHE_ORIGIN"`

	CheckURL      string        `env:"CHECK_URL"`
	CheckInterval time.Duration `env:"CHECK_INTERVAL" envDefault:"30s"`

	MaxBodyBytes     int64 `env:"MAX_BODY_BYTES" envDefault:"10485760"`
	DedupeConcurrent bool  `env:"DEDUPE_CONCURRENT"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	DevMode  bool   `env:"DEV_MODE"`

	OtelEndpoint string `env:"OTEL_ENDPOINT"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// loadConfig parses environment, process environment is used if environment is nil.
func loadConfig(environment map[string]string) (config, error) {
	var cfg config

	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      envPrefix,
		Environment: environment,
	}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	switch cfg.Storage {
	case "memory", "sqlite":
	default:
		return cfg, fmt.Errorf("unknown storage %q, memory or sqlite expected", cfg.Storage)
	}

	return cfg, nil
}
