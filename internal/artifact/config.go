package artifact

import (
	"shipyard/internal/config"
	"time"
)

// Config holds configuration for the Docker builder.
type Config struct {
	ContextDir   string        // Build context directory
	Dockerfile   string        // Dockerfile path relative to the context (default "Dockerfile")
	Repo         string        // Image repository to tag and push to (e.g. registry.example.com/acme/webapp)
	RegistryUser string        // Registry username for push
	RegistryPass string        // Registry password for push
	BuildTimeout time.Duration // Per-build timeout (default 15m)
}

// LoadConfigFromEnv loads builder configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		ContextDir:   config.GetEnv("BUILD_CONTEXT", "."),
		Dockerfile:   config.GetEnv("BUILD_DOCKERFILE", "Dockerfile"),
		Repo:         config.GetEnv("IMAGE_REPO", ""),
		RegistryUser: config.GetEnv("REGISTRY_USER", ""),
		RegistryPass: config.GetSecretFile(config.GetEnv("REGISTRY_PASSWORD_FILE", "")),
		BuildTimeout: config.GetDurationEnv("BUILD_TIMEOUT", 15*time.Minute),
	}
}
