// Package apperrors provides structured pipeline errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for classification via errors.Is().
//
// The first group covers the pipeline stages: build and scan errors abort the
// whole run, rollout errors are contained to their target branch.
var (
	ErrBuildFailure        = errors.New("build failure")
	ErrScanUnavailable     = errors.New("scan service unavailable")
	ErrScanPolicyViolation = errors.New("scan policy violation")
	ErrUnknownTarget       = errors.New("unknown target")
	ErrApplyFailed         = errors.New("apply failed")
	ErrHealthTimeout       = errors.New("health check timeout")
	ErrRollbackFailed      = errors.New("rollback failed")

	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Stage    string // Pipeline stage that failed (e.g., "build", "scan", "rollout")
	Target   string // Deployment target, for rollout-stage errors
	Field    string // For validation errors (e.g., "revision", "targets")
	Resource string // For not found/conflict (e.g., "run", "target")
	Op       string // Operation that failed (e.g., "docker.imagePush", "cluster.apply")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// BuildFailure creates a fatal build error carrying the build tool's output.
func BuildFailure(revision, output string, cause error) error {
	msg := fmt.Sprintf("build of revision %s failed: %v", revision, cause)
	if output != "" {
		msg = fmt.Sprintf("%s\n%s", msg, output)
	}
	return &Error{
		Sentinel: ErrBuildFailure,
		Message:  msg,
		Stage:    "build",
		Cause:    cause,
	}
}

// ScanUnavailable creates a fatal error after scan retries are exhausted.
// Distinct from a failing verdict: the scanner could not be reached at all.
func ScanUnavailable(attempts int, cause error) error {
	return &Error{
		Sentinel: ErrScanUnavailable,
		Message:  fmt.Sprintf("scan service unavailable after %d attempts: %v", attempts, cause),
		Stage:    "scan",
		Cause:    cause,
	}
}

// ScanPolicyViolation creates a fatal error for a failing scan verdict.
func ScanPolicyViolation(digest string, findings int, worst string) error {
	return &Error{
		Sentinel: ErrScanPolicyViolation,
		Message: fmt.Sprintf("artifact %s rejected by scan policy: %d findings, worst severity %s",
			digest, findings, worst),
		Stage: "scan",
	}
}

// UnknownTarget creates a configuration error for an unregistered target name.
func UnknownTarget(name string) error {
	return &Error{
		Sentinel: ErrUnknownTarget,
		Message:  fmt.Sprintf("target %s is not registered", name),
		Resource: "target",
		Target:   name,
	}
}

// ApplyFailed creates a rollout error after apply retries are exhausted.
func ApplyFailed(target, op string, attempts int, cause error) error {
	return &Error{
		Sentinel: ErrApplyFailed,
		Message:  fmt.Sprintf("apply to target %s failed after %d attempts: %v", target, attempts, cause),
		Stage:    "rollout",
		Target:   target,
		Op:       op,
		Cause:    cause,
	}
}

// HealthTimeout creates a rollout error for a workload that never became ready.
func HealthTimeout(target string, timeout time.Duration) error {
	return &Error{
		Sentinel: ErrHealthTimeout,
		Message:  fmt.Sprintf("workload on target %s not ready within %s", target, timeout),
		Stage:    "rollout",
		Target:   target,
	}
}

// RollbackFailed creates a rollout error for a failed rollback attempt.
// Reported but never escalated: the target stays failed for operator attention.
func RollbackFailed(target string, cause error) error {
	return &Error{
		Sentinel: ErrRollbackFailed,
		Message:  fmt.Sprintf("rollback of target %s failed: %v", target, cause),
		Stage:    "rollout",
		Target:   target,
		Cause:    cause,
	}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// IsFatal reports whether the error aborts the whole run rather than a single
// target branch. UnknownTarget counts: it is detected before any work starts.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBuildFailure) ||
		errors.Is(err, ErrScanUnavailable) ||
		errors.Is(err, ErrScanPolicyViolation) ||
		errors.Is(err, ErrUnknownTarget)
}
