package rollout

import (
	"os"
	"path/filepath"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"shipyard/internal/secrets"
	"shipyard/internal/target"
)

func TestResourceFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		apiVersion string
		kind       string
		wantGroup  string
		wantRes    string
	}{
		{"apps/v1", "Deployment", "apps", "deployments"},
		{"v1", "Service", "", "services"},
		{"networking.k8s.io/v1", "Ingress", "networking.k8s.io", "ingresses"},
		{"networking.k8s.io/v1", "NetworkPolicy", "networking.k8s.io", "networkpolicies"},
		{"route.openshift.io/v1", "Route", "route.openshift.io", "routes"},
		{"batch/v1", "CronJob", "batch", "cronjobs"}, // fallback pluralization
	}

	for _, tt := range tests {
		obj := &unstructured.Unstructured{Object: map[string]interface{}{
			"apiVersion": tt.apiVersion,
			"kind":       tt.kind,
		}}
		gvr := resourceFor(obj)
		if gvr.Group != tt.wantGroup || gvr.Resource != tt.wantRes {
			t.Errorf("resourceFor(%s/%s) = %v, want group %q resource %q", tt.apiVersion, tt.kind, gvr, tt.wantGroup, tt.wantRes)
		}
	}
}

func TestClientForCredentialRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	credFile := filepath.Join(dir, "staging-token")
	if err := os.WriteFile(credFile, []byte("token-v1"), 0o600); err != nil {
		t.Fatal(err)
	}

	applier := NewClusterApplier(secrets.NewStore(dir))
	tgt := &target.Target{
		Name:          "staging",
		Kind:          target.KindKubernetes,
		Endpoint:      "https://staging.example.com:6443",
		CredentialRef: "staging-token",
	}

	first, err := applier.clientFor(tgt)
	if err != nil {
		t.Fatalf("clientFor: %v", err)
	}

	// Unchanged credential reuses the built client.
	same, err := applier.clientFor(tgt)
	if err != nil {
		t.Fatalf("clientFor: %v", err)
	}
	if same != first {
		t.Error("client must be reused while the credential is unchanged")
	}

	if err := os.WriteFile(credFile, []byte("token-v2"), 0o600); err != nil {
		t.Fatal(err)
	}
	rotated, err := applier.clientFor(tgt)
	if err != nil {
		t.Fatalf("clientFor after rotation: %v", err)
	}
	if rotated == first {
		t.Error("rotated credential must produce a rebuilt client")
	}
	if applier.clients["staging"].token != "token-v2" {
		t.Errorf("cached token = %q, want token-v2", applier.clients["staging"].token)
	}

	if err := os.Remove(credFile); err != nil {
		t.Fatal(err)
	}
	if _, err := applier.clientFor(tgt); err == nil {
		t.Error("missing credential must fail client acquisition")
	}
}
