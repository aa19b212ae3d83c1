package pipeline

import (
	"time"

	"shipyard/internal/config"
)

// Config tunes run execution and retention.
type Config struct {
	BuildTimeout  time.Duration // Deadline for the build stage (default 15m)
	MaxParallel   int           // Concurrent target rollouts per run (default 4)
	RunRetention  time.Duration // Keep finished runs this long (default 24h)
	SweepInterval time.Duration // Retention sweep cadence (default 10m)
	EventSource   string        // CloudEvent source identifier
}

// LoadConfigFromEnv reads pipeline tuning from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		BuildTimeout:  config.GetDurationEnv("BUILD_TIMEOUT", 15*time.Minute),
		MaxParallel:   config.GetIntEnv("PIPELINE_MAX_PARALLEL", 4),
		RunRetention:  config.GetDurationEnv("PIPELINE_RUN_RETENTION", 24*time.Hour),
		SweepInterval: config.GetDurationEnv("PIPELINE_SWEEP_INTERVAL", 10*time.Minute),
		EventSource:   config.GetEnv("PIPELINE_EVENT_SOURCE", "shipyard"),
	}
}

func (c Config) withDefaults() Config {
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = 15 * time.Minute
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
	if c.RunRetention <= 0 {
		c.RunRetention = 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	if c.EventSource == "" {
		c.EventSource = "shipyard"
	}
	return c
}
