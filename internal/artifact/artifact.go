// Package artifact builds content-addressed container images and records
// their digests.
package artifact

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"
)

// Artifact is the immutable record of one built image. Two artifacts with the
// same digest are interchangeable; everything downstream references the
// artifact by digest only.
type Artifact struct {
	Digest   digest.Digest `json:"digest"`
	Revision string        `json:"revision"`
	ImageRef string        `json:"imageRef"`
	BuiltAt  time.Time     `json:"builtAt"`
}

// Builder produces and publishes artifacts.
//
// Build invokes the external build tool against the configured build context,
// pushes the result to the registry, and returns the pushed artifact. A build
// error is fatal for the pipeline run; there is no fallback.
type Builder interface {
	Build(ctx context.Context, revision string) (*Artifact, error)

	// Ready checks if the build backend is reachable.
	Ready(ctx context.Context) error

	// Close releases resources held by the builder.
	Close() error
}
