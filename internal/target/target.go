// Package target defines deployment targets and the registry that resolves
// them by name.
package target

// Kind identifies the cluster flavor a target runs on. The flavor decides
// which exposure resource the rollout renders.
type Kind string

const (
	KindKubernetes Kind = "kubernetes"
	KindOpenShift  Kind = "openshift"
)

// RouteCapable reports whether the target supports OpenShift Routes. Targets
// without route support get an Ingress instead.
func (k Kind) RouteCapable() bool {
	return k == KindOpenShift
}

// Exposure describes how the deployed workload is reached from outside the
// cluster.
type Exposure struct {
	Host        string `json:"host" yaml:"host"`
	ServicePort int    `json:"servicePort" yaml:"servicePort"`
	TLS         bool   `json:"tls" yaml:"tls"`
}

// Target is a named deployment destination. Manifests hold the raw YAML
// documents applied on deploy, with the image placeholder substituted per
// artifact at render time.
type Target struct {
	Name          string   `json:"name" yaml:"name"`
	Kind          Kind     `json:"kind" yaml:"kind"`
	Endpoint      string   `json:"endpoint" yaml:"endpoint"`
	CredentialRef string   `json:"credentialRef" yaml:"credentialRef"`
	Namespace     string   `json:"namespace" yaml:"namespace"`
	Workload      string   `json:"workload" yaml:"workload"`
	Manifests     []string `json:"manifests" yaml:"manifests"`
	Exposure      Exposure `json:"exposure" yaml:"exposure"`

	// InsecureSkipVerify disables TLS verification for the cluster
	// endpoint. Intended for ephemeral test clusters only.
	InsecureSkipVerify bool `json:"insecureSkipVerify" yaml:"insecureSkipVerify"`
}
