package health

import (
	"context"
	"errors"
	"testing"
)

func TestLivenessAlwaysHealthy(t *testing.T) {
	t.Parallel()

	c := NewChecker(nil)
	if resp := c.Liveness(context.Background()); !resp.IsHealthy() {
		t.Error("liveness must not depend on external checks")
	}
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		checks  map[string]ReadinessCheck
		healthy bool
	}{
		{
			name:    "no checks",
			checks:  nil,
			healthy: true,
		},
		{
			name: "all passing",
			checks: map[string]ReadinessCheck{
				"docker":  func(ctx context.Context) error { return nil },
				"scanner": func(ctx context.Context) error { return nil },
			},
			healthy: true,
		},
		{
			name: "one failing",
			checks: map[string]ReadinessCheck{
				"docker":  func(ctx context.Context) error { return nil },
				"scanner": func(ctx context.Context) error { return errors.New("connection refused") },
			},
			healthy: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := NewChecker(tt.checks).Readiness(context.Background())
			if resp.IsHealthy() != tt.healthy {
				t.Errorf("healthy = %v, want %v (checks: %+v)", resp.IsHealthy(), tt.healthy, resp.Checks)
			}
		})
	}
}

func TestReadinessCachesResults(t *testing.T) {
	t.Parallel()

	calls := 0
	c := NewChecker(map[string]ReadinessCheck{
		"docker": func(ctx context.Context) error {
			calls++
			return nil
		},
	})

	c.Readiness(context.Background())
	c.Readiness(context.Background())
	if calls != 1 {
		t.Errorf("check ran %d times, want 1 (cached)", calls)
	}
}

func TestReadinessDuringShutdown(t *testing.T) {
	t.Parallel()

	c := NewChecker(map[string]ReadinessCheck{
		"docker": func(ctx context.Context) error { return nil },
	})
	c.Readiness(context.Background())
	c.SetShuttingDown()

	resp := c.Readiness(context.Background())
	if resp.IsHealthy() {
		t.Error("readiness must fail while shutting down")
	}
	if _, ok := resp.Checks["shutdown"]; !ok {
		t.Error("shutdown check should explain the failure")
	}
}
