// Package observability provides metrics and logging utilities.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod   = "method"
	attrPath     = "path"
	attrStatus   = "status"
	attrStage    = "stage"
	attrTarget   = "target"
	attrOutcome  = "outcome"
	attrSeverity = "severity"
	attrSuccess  = "success"
	attrRunState = "run_status"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func stageAttr(stage string) attribute.KeyValue {
	return attribute.String(attrStage, stage)
}

func targetAttr(target string) attribute.KeyValue {
	return attribute.String(attrTarget, target)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func severityAttr(severity string) attribute.KeyValue {
	return attribute.String(attrSeverity, severity)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func statusNameAttr(status string) attribute.KeyValue {
	return attribute.String(attrRunState, status)
}

// normalizePath replaces dynamic path segments with placeholders to keep
// metric cardinality bounded: /v1/runs/<uuid> -> /v1/runs/{runId}.
func normalizePath(path string) string {
	const prefix = "/v1/runs/"
	if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
		return "/v1/runs/{runId}"
	}
	return path
}
