package rollout

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"shipyard/internal/target"
)

// Applier pushes objects to a target cluster and inspects workload health.
// The engine depends on this interface so rollout semantics can be tested
// without a live cluster.
type Applier interface {
	// Apply creates or updates the object on the target's cluster.
	Apply(ctx context.Context, t *target.Target, obj *unstructured.Unstructured) error

	// WorkloadStatus returns the target workload's ready and desired
	// replica counts.
	WorkloadStatus(ctx context.Context, t *target.Target) (ready, desired int64, err error)
}
