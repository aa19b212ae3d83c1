package scan

import (
	"time"

	"shipyard/internal/config"
	"shipyard/pkg/backoff"
)

// Config holds configuration for the vulnerability gate.
type Config struct {
	ServiceURL string         // Scan service base URL
	Timeout    time.Duration  // Per-request timeout (default 60s)
	Attempts   int            // Scan attempts before ScanUnavailable (default 3)
	Backoff    backoff.Config // Retry backoff between attempts
}

// LoadConfigFromEnv loads gate configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		ServiceURL: config.GetEnv("SCANNER_URL", "http://localhost:4954"),
		Timeout:    config.GetDurationEnv("SCANNER_TIMEOUT", 60*time.Second),
		Attempts:   config.GetIntEnv("SCANNER_ATTEMPTS", 3),
		Backoff: backoff.Config{
			Initial: config.GetDurationEnv("SCANNER_BACKOFF_INITIAL", 500*time.Millisecond),
			Max:     config.GetDurationEnv("SCANNER_BACKOFF_MAX", 10*time.Second),
		},
	}
}

// PolicyFromEnv loads the severity policy from environment variables.
// An unparsable threshold falls back to the critical-only default.
func PolicyFromEnv() Policy {
	threshold := ParseSeverity(config.GetEnv("SCAN_FAIL_SEVERITY", string(SeverityCritical)))
	if threshold == SeverityUnknown {
		return DefaultPolicy()
	}
	return Policy{Threshold: threshold}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	return c
}
