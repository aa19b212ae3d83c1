package rollout

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	sigyaml "sigs.k8s.io/yaml"

	"shipyard/internal/apperrors"
	"shipyard/internal/artifact"
	"shipyard/internal/target"
)

// ImagePlaceholder is substituted with the artifact's digest-pinned image
// reference in every manifest at render time.
const ImagePlaceholder = "$(ARTIFACT_IMAGE)"

// ManifestSet is the fully rendered set of objects for one target and one
// artifact. Revision fingerprints the rendered content; two renders with the
// same artifact and target configuration produce the same revision, which is
// what makes deploys idempotent.
type ManifestSet struct {
	Revision string
	Objects  []*unstructured.Unstructured
}

// Render substitutes the artifact image into the target's manifests, fills
// in the target namespace, and appends the exposure object the target's
// cluster flavor supports.
func Render(t *target.Target, art *artifact.Artifact) (*ManifestSet, error) {
	objects := make([]*unstructured.Unstructured, 0, len(t.Manifests)+1)
	hasher := sha256.New()

	for i, manifest := range t.Manifests {
		rendered := strings.ReplaceAll(manifest, ImagePlaceholder, art.ImageRef)
		obj, err := decodeManifest(rendered)
		if err != nil {
			return nil, apperrors.Validation("manifests", fmt.Sprintf("target %q manifest %d: %v", t.Name, i, err))
		}
		if obj.GetNamespace() == "" {
			obj.SetNamespace(t.Namespace)
		}
		objects = append(objects, obj)
	}

	if t.Exposure.Host != "" {
		exposure, err := renderExposure(t)
		if err != nil {
			return nil, err
		}
		objects = append(objects, exposure)
	}

	for _, obj := range objects {
		data, err := json.Marshal(obj.Object)
		if err != nil {
			return nil, apperrors.Internal("render", err)
		}
		hasher.Write(data)
		hasher.Write([]byte{0})
	}

	return &ManifestSet{
		Revision: hex.EncodeToString(hasher.Sum(nil))[:12],
		Objects:  objects,
	}, nil
}

func decodeManifest(doc string) (*unstructured.Unstructured, error) {
	jsonData, err := sigyaml.YAMLToJSON([]byte(doc))
	if err != nil {
		return nil, err
	}
	obj := &unstructured.Unstructured{}
	if err := obj.UnmarshalJSON(jsonData); err != nil {
		return nil, err
	}
	if obj.GetKind() == "" || obj.GetAPIVersion() == "" {
		return nil, fmt.Errorf("manifest is missing kind or apiVersion")
	}
	if obj.GetName() == "" {
		return nil, fmt.Errorf("manifest is missing metadata.name")
	}
	return obj, nil
}

// renderExposure builds a Route for OpenShift targets and an Ingress for
// everything else, both pointing at the workload's Service.
func renderExposure(t *target.Target) (*unstructured.Unstructured, error) {
	if t.Kind.RouteCapable() {
		return renderRoute(t), nil
	}
	return renderIngress(t), nil
}

func renderRoute(t *target.Target) *unstructured.Unstructured {
	route := map[string]interface{}{
		"apiVersion": "route.openshift.io/v1",
		"kind":       "Route",
		"metadata": map[string]interface{}{
			"name":      t.Workload,
			"namespace": t.Namespace,
		},
		"spec": map[string]interface{}{
			"host": t.Exposure.Host,
			"to": map[string]interface{}{
				"kind": "Service",
				"name": t.Workload,
			},
			"port": map[string]interface{}{
				"targetPort": int64(t.Exposure.ServicePort),
			},
		},
	}
	if t.Exposure.TLS {
		route["spec"].(map[string]interface{})["tls"] = map[string]interface{}{
			"termination": "edge",
		}
	}
	return &unstructured.Unstructured{Object: route}
}

func renderIngress(t *target.Target) *unstructured.Unstructured {
	rule := map[string]interface{}{
		"host": t.Exposure.Host,
		"http": map[string]interface{}{
			"paths": []interface{}{
				map[string]interface{}{
					"path":     "/",
					"pathType": "Prefix",
					"backend": map[string]interface{}{
						"service": map[string]interface{}{
							"name": t.Workload,
							"port": map[string]interface{}{
								"number": int64(t.Exposure.ServicePort),
							},
						},
					},
				},
			},
		},
	}
	ingress := map[string]interface{}{
		"apiVersion": "networking.k8s.io/v1",
		"kind":       "Ingress",
		"metadata": map[string]interface{}{
			"name":      t.Workload,
			"namespace": t.Namespace,
		},
		"spec": map[string]interface{}{
			"rules": []interface{}{rule},
		},
	}
	if t.Exposure.TLS {
		ingress["spec"].(map[string]interface{})["tls"] = []interface{}{
			map[string]interface{}{
				"hosts":      []interface{}{t.Exposure.Host},
				"secretName": t.Workload + "-tls",
			},
		}
	}
	return &unstructured.Unstructured{Object: ingress}
}
