package target

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"shipyard/internal/apperrors"
)

// Registry holds the configured deployment targets. It is loaded once at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	targets map[string]*Target
}

type registryFile struct {
	Targets []*Target `yaml:"targets"`
}

// LoadRegistry reads and validates the target inventory from a YAML file.
// Validation is fail-fast: a single bad target aborts startup rather than
// surfacing as an unknown-target error mid-pipeline.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading targets file %s: %w", path, err)
	}
	return ParseRegistry(data)
}

// ParseRegistry builds a registry from raw YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.Validation("targets", fmt.Sprintf("invalid YAML: %v", err))
	}
	if len(file.Targets) == 0 {
		return nil, apperrors.Validation("targets", "at least one target is required")
	}

	targets := make(map[string]*Target, len(file.Targets))
	for i, t := range file.Targets {
		if err := validateTarget(t); err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
		if _, ok := targets[t.Name]; ok {
			return nil, apperrors.Validation("name", fmt.Sprintf("duplicate target name %q", t.Name))
		}
		if t.Namespace == "" {
			t.Namespace = "default"
		}
		targets[t.Name] = t
	}
	return &Registry{targets: targets}, nil
}

func validateTarget(t *Target) error {
	if t.Name == "" {
		return apperrors.Validation("name", "target name is required")
	}
	switch t.Kind {
	case KindKubernetes, KindOpenShift:
	default:
		return apperrors.Validation("kind", fmt.Sprintf("unknown kind %q for target %q", t.Kind, t.Name))
	}
	if t.Endpoint == "" {
		return apperrors.Validation("endpoint", fmt.Sprintf("target %q has no endpoint", t.Name))
	}
	if t.CredentialRef == "" {
		return apperrors.Validation("credentialRef", fmt.Sprintf("target %q has no credential reference", t.Name))
	}
	if t.Workload == "" {
		return apperrors.Validation("workload", fmt.Sprintf("target %q has no workload name", t.Name))
	}
	if len(t.Manifests) == 0 {
		return apperrors.Validation("manifests", fmt.Sprintf("target %q has no manifests", t.Name))
	}
	return nil
}

// Resolve returns the target with the given name.
func (r *Registry) Resolve(name string) (*Target, error) {
	t, ok := r.targets[name]
	if !ok {
		return nil, apperrors.UnknownTarget(name)
	}
	return t, nil
}

// Names returns the registered target names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered targets sorted by name.
func (r *Registry) All() []*Target {
	targets := make([]*Target, 0, len(r.targets))
	for _, name := range r.Names() {
		targets = append(targets, r.targets[name])
	}
	return targets
}
