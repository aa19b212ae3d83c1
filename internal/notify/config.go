package notify

import (
	"time"

	"shipyard/internal/config"
)

// Hardcoded delivery defaults - these rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
)

// MemoryConfig holds configuration for the in-memory notifier.
type MemoryConfig struct {
	BufferSize  int           // pending events buffer (default: 1000)
	Workers     int           // concurrent delivery goroutines (default: 4)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)

	// Destinations receive an event for every finished run.
	Destinations []string
	// SigningKey signs payloads when non-empty.
	SigningKey string
}

// LoadConfigFromEnv loads notifier configuration from environment variables.
// The signing key is read from a mounted secret file, never from the
// environment directly.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:   config.GetIntEnv("NOTIFY_BUFFER_SIZE", 1000),
		Workers:      config.GetIntEnv("NOTIFY_WORKERS", 4),
		HTTPTimeout:  config.GetDurationEnv("NOTIFY_HTTP_TIMEOUT", 10*time.Second),
		Destinations: config.GetSliceEnv("NOTIFY_URLS"),
		SigningKey:   config.GetSecretFile(config.GetEnv("NOTIFY_SIGNING_KEY_FILE", "")),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}
