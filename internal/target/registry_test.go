package target

import (
	"errors"
	"testing"

	"shipyard/internal/apperrors"
)

const validYAML = `
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
`

func TestParseRegistry(t *testing.T) {
	t.Parallel()

	reg, err := ParseRegistry([]byte(validYAML))
	if err != nil {
		t.Fatalf("ParseRegistry: %v", err)
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "production" || names[1] != "staging" {
		t.Errorf("Names() = %v, want [production staging]", names)
	}

	staging, err := reg.Resolve("staging")
	if err != nil {
		t.Fatalf("Resolve(staging): %v", err)
	}
	if staging.Namespace != "default" {
		t.Errorf("staging namespace = %q, want default applied", staging.Namespace)
	}
	if staging.Kind.RouteCapable() {
		t.Error("kubernetes target must not be route capable")
	}

	prod, err := reg.Resolve("production")
	if err != nil {
		t.Fatalf("Resolve(production): %v", err)
	}
	if prod.Namespace != "app-prod" {
		t.Errorf("production namespace = %q, want app-prod", prod.Namespace)
	}
	if !prod.Kind.RouteCapable() {
		t.Error("openshift target must be route capable")
	}
}

func TestParseRegistryValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "empty inventory",
			yaml: "targets: []\n",
		},
		{
			name: "invalid yaml",
			yaml: "targets: [nope",
		},
		{
			name: "missing name",
			yaml: `
targets:
  - kind: kubernetes
    endpoint: https://x:6443
    credentialRef: tok
    workload: app
    manifests: ["kind: Deployment"]
`,
		},
		{
			name: "unknown kind",
			yaml: `
targets:
  - name: edge
    kind: nomad
    endpoint: https://x:6443
    credentialRef: tok
    workload: app
    manifests: ["kind: Deployment"]
`,
		},
		{
			name: "missing endpoint",
			yaml: `
targets:
  - name: edge
    kind: kubernetes
    credentialRef: tok
    workload: app
    manifests: ["kind: Deployment"]
`,
		},
		{
			name: "missing credentialRef",
			yaml: `
targets:
  - name: edge
    kind: kubernetes
    endpoint: https://x:6443
    workload: app
    manifests: ["kind: Deployment"]
`,
		},
		{
			name: "missing workload",
			yaml: `
targets:
  - name: edge
    kind: kubernetes
    endpoint: https://x:6443
    credentialRef: tok
    manifests: ["kind: Deployment"]
`,
		},
		{
			name: "no manifests",
			yaml: `
targets:
  - name: edge
    kind: kubernetes
    endpoint: https://x:6443
    credentialRef: tok
    workload: app
    manifests: []
`,
		},
		{
			name: "duplicate names",
			yaml: `
targets:
  - name: edge
    kind: kubernetes
    endpoint: https://x:6443
    credentialRef: tok
    workload: app
    manifests: ["kind: Deployment"]
  - name: edge
    kind: kubernetes
    endpoint: https://y:6443
    credentialRef: tok
    workload: app
    manifests: ["kind: Deployment"]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseRegistry([]byte(tt.yaml)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestResolveUnknownTarget(t *testing.T) {
	t.Parallel()

	reg, err := ParseRegistry([]byte(validYAML))
	if err != nil {
		t.Fatalf("ParseRegistry: %v", err)
	}

	_, err = reg.Resolve("qa")
	if !errors.Is(err, apperrors.ErrUnknownTarget) {
		t.Errorf("err = %v, want ErrUnknownTarget", err)
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadRegistry("/nonexistent/targets.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
