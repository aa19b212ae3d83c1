package rollout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"shipyard/internal/artifact"
	"shipyard/internal/target"
	"shipyard/pkg/backoff"
)

// fakeApplier simulates a cluster. The workload reports healthy only while
// the most recently applied deployment runs healthyImage.
type fakeApplier struct {
	mu           sync.Mutex
	applied      []string
	applyErr     error
	failFrom     int // fail applies once len(applied) reaches this, 0 = never
	lateErr      error
	healthyImage string
	currentImage string
}

func (f *fakeApplier) Apply(ctx context.Context, t *target.Target, obj *unstructured.Unstructured) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	if f.failFrom > 0 && len(f.applied) >= f.failFrom {
		return f.lateErr
	}
	f.applied = append(f.applied, fmt.Sprintf("%s/%s", obj.GetKind(), obj.GetName()))
	if obj.GetKind() == "Deployment" {
		containers, _, _ := unstructured.NestedSlice(obj.Object, "spec", "template", "spec", "containers")
		if len(containers) > 0 {
			if c, ok := containers[0].(map[string]interface{}); ok {
				f.currentImage, _ = c["image"].(string)
			}
		}
	}
	return nil
}

func (f *fakeApplier) WorkloadStatus(ctx context.Context, t *target.Target) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currentImage == f.healthyImage {
		return 2, 2, nil
	}
	return 0, 2, nil
}

func (f *fakeApplier) applyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func fastEngineConfig() Config {
	return Config{
		ApplyRetries:  2,
		ApplyTimeout:  time.Second,
		HealthTimeout: 100 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
		Backoff:       backoff.Config{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2.0},
	}
}

func engineArtifact(hexByte string) *artifact.Artifact {
	d := "sha256:" + strings.Repeat(hexByte, 64)
	return &artifact.Artifact{
		Digest:   digest.Digest(d),
		Revision: "rev-" + hexByte,
		ImageRef: "registry.example.com/app@" + d,
		BuiltAt:  time.Now(),
	}
}

func TestDeployHealthy(t *testing.T) {
	t.Parallel()

	art := engineArtifact("a")
	applier := &fakeApplier{healthyImage: art.ImageRef}
	store := NewStore()
	engine := NewEngine(applier, store, fastEngineConfig(), nil)

	rec := engine.Deploy(context.Background(), renderTarget(target.KindKubernetes), art)
	if rec.Status != StatusHealthy {
		t.Fatalf("status = %q, want healthy (error: %s)", rec.Status, rec.Error)
	}
	if rec.AppliedAt.IsZero() || rec.FinishedAt.IsZero() {
		t.Error("applied and finished timestamps must be set")
	}
	if store.LastHealthy("staging") == nil {
		t.Error("healthy deploy must be promoted to rollback destination")
	}
}

func TestDeployIdempotent(t *testing.T) {
	t.Parallel()

	art := engineArtifact("a")
	applier := &fakeApplier{healthyImage: art.ImageRef}
	engine := NewEngine(applier, NewStore(), fastEngineConfig(), nil)
	tgt := renderTarget(target.KindKubernetes)

	first := engine.Deploy(context.Background(), tgt, art)
	if first.Status != StatusHealthy {
		t.Fatalf("first deploy: %q (%s)", first.Status, first.Error)
	}
	applies := applier.applyCount()

	second := engine.Deploy(context.Background(), tgt, art)
	if second.Status != StatusHealthy {
		t.Fatalf("second deploy: %q (%s)", second.Status, second.Error)
	}
	if applier.applyCount() != applies {
		t.Errorf("re-deploying a healthy revision must not touch the cluster: %d applies, want %d", applier.applyCount(), applies)
	}
}

func TestDeployRetriesFailedRevision(t *testing.T) {
	t.Parallel()

	art := engineArtifact("a")
	applier := &fakeApplier{healthyImage: "never"}
	engine := NewEngine(applier, NewStore(), fastEngineConfig(), nil)
	tgt := renderTarget(target.KindKubernetes)

	first := engine.Deploy(context.Background(), tgt, art)
	if first.Status != StatusFailed {
		t.Fatalf("first deploy: %q, want failed", first.Status)
	}
	applies := applier.applyCount()

	// Only a healthy revision short-circuits; a failed one is retried
	// once the cluster recovers.
	applier.mu.Lock()
	applier.healthyImage = art.ImageRef
	applier.mu.Unlock()

	second := engine.Deploy(context.Background(), tgt, art)
	if second.Status != StatusHealthy {
		t.Fatalf("second deploy: %q (%s), want healthy", second.Status, second.Error)
	}
	if applier.applyCount() <= applies {
		t.Error("re-deploying a failed revision must apply again")
	}
}

func TestDeployApplyFailure(t *testing.T) {
	t.Parallel()

	applier := &fakeApplier{applyErr: errors.New("connection refused")}
	engine := NewEngine(applier, NewStore(), fastEngineConfig(), nil)

	rec := engine.Deploy(context.Background(), renderTarget(target.KindKubernetes), engineArtifact("a"))
	if rec.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", rec.Status)
	}
	if !strings.Contains(rec.Error, "connection refused") {
		t.Errorf("record error should carry the cause, got %q", rec.Error)
	}
}

func TestDeployHealthTimeoutWithoutHistory(t *testing.T) {
	t.Parallel()

	// healthyImage never matches, so the workload never reports ready.
	applier := &fakeApplier{healthyImage: "never"}
	engine := NewEngine(applier, NewStore(), fastEngineConfig(), nil)

	rec := engine.Deploy(context.Background(), renderTarget(target.KindKubernetes), engineArtifact("a"))
	if rec.Status != StatusFailed {
		t.Fatalf("status = %q, want failed when no rollback destination exists", rec.Status)
	}
	if !strings.Contains(rec.Error, "staging") {
		t.Errorf("record error should name the target, got %q", rec.Error)
	}
}

func TestDeployRollsBackOnHealthTimeout(t *testing.T) {
	t.Parallel()

	good := engineArtifact("a")
	bad := engineArtifact("b")
	applier := &fakeApplier{healthyImage: good.ImageRef}
	store := NewStore()
	engine := NewEngine(applier, store, fastEngineConfig(), nil)
	tgt := renderTarget(target.KindKubernetes)

	first := engine.Deploy(context.Background(), tgt, good)
	if first.Status != StatusHealthy {
		t.Fatalf("seed deploy: %q (%s)", first.Status, first.Error)
	}

	second := engine.Deploy(context.Background(), tgt, bad)
	if second.Status != StatusRolledBack {
		t.Fatalf("status = %q, want rolled-back (error: %s)", second.Status, second.Error)
	}
	if second.Error == "" {
		t.Error("rolled-back record must keep the original failure")
	}

	// The rollback restored the good image, so the rollback destination
	// is still the first deploy.
	if got := store.CurrentRevision(tgt.Name); got != store.LastHealthy(tgt.Name).Revision {
		t.Errorf("current healthy revision %q does not match rollback destination", got)
	}
	applier.mu.Lock()
	current := applier.currentImage
	applier.mu.Unlock()
	if current != good.ImageRef {
		t.Errorf("cluster runs %q after rollback, want %q", current, good.ImageRef)
	}
}

func TestDeployRollbackFailure(t *testing.T) {
	t.Parallel()

	good := engineArtifact("a")
	bad := engineArtifact("b")
	applier := &fakeApplier{healthyImage: good.ImageRef}
	engine := NewEngine(applier, NewStore(), fastEngineConfig(), nil)
	tgt := renderTarget(target.KindKubernetes)

	if rec := engine.Deploy(context.Background(), tgt, good); rec.Status != StatusHealthy {
		t.Fatalf("seed deploy: %q (%s)", rec.Status, rec.Error)
	}

	// Let the new revision apply cleanly, then break the cluster so the
	// rollback apply fails.
	applier.mu.Lock()
	applier.healthyImage = "never"
	applier.failFrom = len(applier.applied) + 2
	applier.lateErr = errors.New("cluster unreachable")
	applier.mu.Unlock()

	rec := engine.Deploy(context.Background(), tgt, bad)
	if rec.Status != StatusFailed {
		t.Fatalf("status = %q, want failed when rollback cannot apply", rec.Status)
	}
	if !strings.Contains(rec.Error, "cluster unreachable") {
		t.Errorf("record error should carry the rollback cause, got %q", rec.Error)
	}
}
