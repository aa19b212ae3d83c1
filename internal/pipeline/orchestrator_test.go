package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"shipyard/internal/apperrors"
	"shipyard/internal/artifact"
	"shipyard/internal/notify"
	"shipyard/internal/rollout"
	"shipyard/internal/scan"
	"shipyard/internal/target"
	"shipyard/internal/testutil"
	"shipyard/pkg/backoff"
	"shipyard/pkg/cloudevent"
)

const testDigest = "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type fakeBuilder struct {
	err   error
	calls atomic.Int32
}

func (f *fakeBuilder) Build(ctx context.Context, revision string) (*artifact.Artifact, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &artifact.Artifact{
		Digest:   digest.Digest(testDigest),
		Revision: revision,
		ImageRef: "registry.example.com/app@" + testDigest,
		BuiltAt:  time.Now(),
	}, nil
}

func (f *fakeBuilder) Ready(ctx context.Context) error { return nil }
func (f *fakeBuilder) Close() error                    { return nil }

type fakeScanner struct {
	findings []scan.Finding
	err      error
	calls    atomic.Int32
}

func (f *fakeScanner) Scan(ctx context.Context, imageRef string) ([]scan.Finding, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.findings, nil
}

// fakeApplier reports healthy workloads only for targets in healthy.
type fakeApplier struct {
	mu      sync.Mutex
	applies int
	healthy map[string]bool
}

func (f *fakeApplier) Apply(ctx context.Context, t *target.Target, obj *unstructured.Unstructured) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies++
	return nil
}

func (f *fakeApplier) WorkloadStatus(ctx context.Context, t *target.Target) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.healthy[t.Name] {
		return 1, 1, nil
	}
	return 0, 1, nil
}

func (f *fakeApplier) applyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applies
}

// capturingNotifier records published events instead of delivering them.
type capturingNotifier struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (c *capturingNotifier) Publish(e *notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capturingNotifier) Stats() notify.Stats             { return notify.Stats{} }
func (c *capturingNotifier) Close(ctx context.Context) error { return nil }

func (c *capturingNotifier) published() []*notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*notify.Event, len(c.events))
	copy(out, c.events)
	return out
}

const testTargetsYAML = `
targets:
  - name: staging
    kind: kubernetes
    endpoint: https://staging.example.com:6443
    credentialRef: staging-token
    workload: app
    manifests:
      - |
        apiVersion: apps/v1
        kind: Deployment
        metadata:
          name: app
        spec:
          replicas: 1
          template:
            spec:
              containers:
                - name: app
                  image: $(ARTIFACT_IMAGE)
  - name: production
    kind: openshift
    endpoint: https://prod.example.com:6443
    credentialRef: prod-token
    namespace: app-prod
    workload: app
    manifests:
      - |
        apiVersion: apps/v1
        kind: Deployment
        metadata:
          name: app
        spec:
          replicas: 1
          template:
            spec:
              containers:
                - name: app
                  image: $(ARTIFACT_IMAGE)
`

type fixture struct {
	service  *Service
	builder  *fakeBuilder
	scanner  *fakeScanner
	applier  *fakeApplier
	notifier *capturingNotifier
}

func newFixture(t *testing.T, builder *fakeBuilder, scanner *fakeScanner, applier *fakeApplier) *fixture {
	t.Helper()

	registry, err := target.ParseRegistry([]byte(testTargetsYAML))
	if err != nil {
		t.Fatalf("ParseRegistry: %v", err)
	}

	gate := scan.NewGate(scanner, scan.DefaultPolicy(), scan.Config{
		Attempts: 2,
		Timeout:  time.Second,
		Backoff:  backoff.Config{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2.0},
	})

	engine := rollout.NewEngine(applier, rollout.NewStore(), rollout.Config{
		ApplyRetries:  1,
		ApplyTimeout:  time.Second,
		HealthTimeout: 50 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
		Backoff:       backoff.Config{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2.0},
	}, nil)

	notifier := &capturingNotifier{}
	orch := NewOrchestrator(builder, gate, registry, engine, notifier, Config{
		BuildTimeout: time.Second,
		MaxParallel:  2,
	}, notifyConfigForTest(), nil)

	return &fixture{
		service:  NewService(orch),
		builder:  builder,
		scanner:  scanner,
		applier:  applier,
		notifier: notifier,
	}
}

func (f *fixture) awaitTerminal(t *testing.T, id string) *Run {
	t.Helper()
	var run *Run
	testutil.MustWaitFor(t, func() bool {
		var err error
		run, err = f.service.Get(id)
		return err == nil && run.Status.Terminal()
	}, testutil.WithTimeout(5*time.Second), testutil.WithInterval(5*time.Millisecond))
	return run
}

func TestRunHealthy(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		&fakeBuilder{},
		&fakeScanner{},
		&fakeApplier{healthy: map[string]bool{"staging": true, "production": true}},
	)

	run, created, err := f.service.Trigger(context.Background(), TriggerRequest{
		Revision: "abc1234",
		Targets:  []string{"staging", "production"},
	})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !created {
		t.Fatal("expected a new run")
	}

	run = f.awaitTerminal(t, run.ID)
	if run.Status != RunHealthy {
		t.Fatalf("status = %q, want healthy (error: %s)", run.Status, run.Error)
	}
	if run.Artifact == nil || run.Artifact.Digest.String() != testDigest {
		t.Error("run must carry the built artifact")
	}
	if run.Verdict == nil || !run.Verdict.Passed {
		t.Error("run must carry a passing verdict")
	}
	for _, name := range []string{"staging", "production"} {
		rec, ok := run.Rollouts[name]
		if !ok || rec.Status != rollout.StatusHealthy {
			t.Errorf("target %s rollout = %+v, want healthy", name, rec)
		}
	}
}

func TestRunEventCarriesResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		&fakeBuilder{},
		&fakeScanner{findings: []scan.Finding{
			{ID: "CVE-2024-0002", Package: "libxml2", Severity: scan.SeverityMedium},
		}},
		&fakeApplier{healthy: map[string]bool{"staging": true, "production": true}},
	)

	run, _, err := f.service.Trigger(context.Background(), TriggerRequest{
		Revision: "abc1234",
		Targets:  []string{"staging", "production"},
	})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	f.awaitTerminal(t, run.ID)

	testutil.MustWaitFor(t, func() bool {
		return len(f.notifier.published()) > 0
	})
	event := f.notifier.published()[0]

	if event.Destination != "https://hooks.example/pipeline" {
		t.Errorf("destination = %q", event.Destination)
	}
	if event.Payload.Type != cloudevent.TypeRunCompleted {
		t.Errorf("event type = %q, want %q", event.Payload.Type, cloudevent.TypeRunCompleted)
	}

	data := event.Payload.Data
	if data["status"] != string(RunHealthy) {
		t.Errorf("status = %v, want healthy", data["status"])
	}
	rollouts, ok := data["rollouts"].(map[string]string)
	if !ok {
		t.Fatalf("rollouts missing from event data: %v", data)
	}
	for _, name := range []string{"staging", "production"} {
		if rollouts[name] != string(rollout.StatusHealthy) {
			t.Errorf("rollouts[%s] = %q, want healthy", name, rollouts[name])
		}
	}
	findings, ok := data["findings"].(map[string]int)
	if !ok {
		t.Fatalf("findings missing from event data: %v", data)
	}
	if findings[string(scan.SeverityMedium)] != 1 {
		t.Errorf("findings = %v, want one medium", findings)
	}
}

func TestRunPolicyViolationBlocksDeploy(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		&fakeBuilder{},
		&fakeScanner{findings: []scan.Finding{
			{ID: "CVE-2024-0001", Package: "openssl", Severity: scan.SeverityCritical},
		}},
		&fakeApplier{healthy: map[string]bool{"staging": true, "production": true}},
	)

	run, _, err := f.service.Trigger(context.Background(), TriggerRequest{
		Revision: "abc1234",
		Targets:  []string{"staging", "production"},
	})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	run = f.awaitTerminal(t, run.ID)
	if run.Status != RunFailed {
		t.Fatalf("status = %q, want failed", run.Status)
	}
	if !strings.Contains(run.Error, "critical") {
		t.Errorf("run error should name the worst severity, got %q", run.Error)
	}
	if got := f.applier.applyCount(); got != 0 {
		t.Errorf("no manifest may reach a cluster before a passing verdict, got %d applies", got)
	}
	if len(run.Rollouts) != 0 {
		t.Errorf("no rollouts expected, got %v", run.Rollouts)
	}
	if !run.Fatal {
		t.Error("a policy violation halts the pipeline and must be fatal")
	}
}

func TestRunPartialFailureIsolation(t *testing.T) {
	t.Parallel()

	// production never reports healthy and has no rollback destination.
	f := newFixture(t,
		&fakeBuilder{},
		&fakeScanner{},
		&fakeApplier{healthy: map[string]bool{"staging": true}},
	)

	run, _, err := f.service.Trigger(context.Background(), TriggerRequest{
		Revision: "abc1234",
		Targets:  []string{"staging", "production"},
	})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	run = f.awaitTerminal(t, run.ID)
	if run.Status != RunFailed {
		t.Fatalf("status = %q, want failed", run.Status)
	}
	if rec := run.Rollouts["staging"]; rec == nil || rec.Status != rollout.StatusHealthy {
		t.Errorf("staging rollout = %+v, want healthy despite production failing", rec)
	}
	if rec := run.Rollouts["production"]; rec == nil || rec.Status != rollout.StatusFailed {
		t.Errorf("production rollout = %+v, want failed", rec)
	}
	if run.Fatal {
		t.Error("a branch-level failure must not mark the run fatal")
	}
}

func TestRunBuildFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		&fakeBuilder{err: apperrors.BuildFailure("abc1234", "compile error in main.go", errors.New("exit status 1"))},
		&fakeScanner{},
		&fakeApplier{},
	)

	run, _, err := f.service.Trigger(context.Background(), TriggerRequest{
		Revision: "abc1234",
		Targets:  []string{"staging"},
	})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	run = f.awaitTerminal(t, run.ID)
	if run.Status != RunFailed {
		t.Fatalf("status = %q, want failed", run.Status)
	}
	if f.scanner.calls.Load() != 0 {
		t.Error("a failed build must not reach the scan stage")
	}
	if !strings.Contains(run.Error, "compile error") {
		t.Errorf("run error should carry the build cause, got %q", run.Error)
	}
	if !run.Fatal {
		t.Error("a build failure halts the pipeline and must be fatal")
	}
}

func TestRunScanUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		&fakeBuilder{},
		&fakeScanner{err: errors.New("connection refused")},
		&fakeApplier{healthy: map[string]bool{"staging": true}},
	)

	run, _, err := f.service.Trigger(context.Background(), TriggerRequest{
		Revision: "abc1234",
		Targets:  []string{"staging"},
	})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	run = f.awaitTerminal(t, run.ID)
	if run.Status != RunFailed {
		t.Fatalf("status = %q, want failed", run.Status)
	}
	if got := f.applier.applyCount(); got != 0 {
		t.Errorf("an unavailable scanner must block every deploy, got %d applies", got)
	}
	if f.scanner.calls.Load() != 2 {
		t.Errorf("scanner calls = %d, want 2 attempts", f.scanner.calls.Load())
	}
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	rec := func(s rollout.Status) *rollout.Record { return &rollout.Record{Status: s} }

	tests := []struct {
		name     string
		rollouts map[string]*rollout.Record
		want     RunStatus
	}{
		{
			name:     "all healthy",
			rollouts: map[string]*rollout.Record{"a": rec(rollout.StatusHealthy), "b": rec(rollout.StatusHealthy)},
			want:     RunHealthy,
		},
		{
			name:     "one rolled back degrades",
			rollouts: map[string]*rollout.Record{"a": rec(rollout.StatusHealthy), "b": rec(rollout.StatusRolledBack)},
			want:     RunRolledBack,
		},
		{
			name:     "one failed dominates",
			rollouts: map[string]*rollout.Record{"a": rec(rollout.StatusRolledBack), "b": rec(rollout.StatusFailed)},
			want:     RunFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := aggregate(tt.rollouts); got != tt.want {
				t.Errorf("aggregate = %q, want %q", got, tt.want)
			}
		})
	}
}
