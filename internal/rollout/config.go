package rollout

import (
	"time"

	"shipyard/internal/config"
	"shipyard/pkg/backoff"
)

// Config tunes apply retries and health polling for the rollout engine.
type Config struct {
	ApplyRetries  int            // Apply attempts per object (default 3)
	ApplyTimeout  time.Duration  // Per-apply request timeout (default 30s)
	HealthTimeout time.Duration  // Workload readiness deadline (default 2m)
	PollInterval  time.Duration  // Readiness poll cadence (default 3s)
	Backoff       backoff.Config // Delay between apply retries
}

// LoadConfigFromEnv reads rollout tuning from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		ApplyRetries:  config.GetIntEnv("ROLLOUT_APPLY_RETRIES", 3),
		ApplyTimeout:  config.GetDurationEnv("ROLLOUT_APPLY_TIMEOUT", 30*time.Second),
		HealthTimeout: config.GetDurationEnv("ROLLOUT_HEALTH_TIMEOUT", 2*time.Minute),
		PollInterval:  config.GetDurationEnv("ROLLOUT_POLL_INTERVAL", 3*time.Second),
		Backoff: backoff.Config{
			Initial:    config.GetDurationEnv("ROLLOUT_BACKOFF_INITIAL", 500*time.Millisecond),
			Max:        config.GetDurationEnv("ROLLOUT_BACKOFF_MAX", 5*time.Second),
			Multiplier: 2.0,
		},
	}
}

func (c Config) withDefaults() Config {
	if c.ApplyRetries <= 0 {
		c.ApplyRetries = 3
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 30 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	return c
}
