package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		sentinel error
		fatal    bool
	}{
		{"build failure", BuildFailure("abc123", "step 4/7 failed", cause), ErrBuildFailure, true},
		{"scan unavailable", ScanUnavailable(3, cause), ErrScanUnavailable, true},
		{"policy violation", ScanPolicyViolation("sha256:deadbeef", 2, "critical"), ErrScanPolicyViolation, true},
		{"unknown target", UnknownTarget("edge"), ErrUnknownTarget, true},
		{"apply failed", ApplyFailed("staging", "cluster.apply", 3, cause), ErrApplyFailed, false},
		{"health timeout", HealthTimeout("staging", 2*time.Minute), ErrHealthTimeout, false},
		{"rollback failed", RollbackFailed("production", cause), ErrRollbackFailed, false},
		{"validation", Validation("revision", "revision is required"), ErrValidation, false},
		{"not found", NotFound("run", "r-1"), ErrNotFound, false},
		{"conflict", Conflict("run", "r-1", "run already exists"), ErrConflict, false},
		{"internal", Internal("store.save", cause), ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is() = false, want true for %v", tt.sentinel)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestBuildFailureCarriesOutput(t *testing.T) {
	t.Parallel()

	err := BuildFailure("abc123", "npm ERR! missing script: build", errors.New("exit 1"))
	if !strings.Contains(err.Error(), "npm ERR!") {
		t.Errorf("build failure message should carry tool output, got %q", err.Error())
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("targets", "at least one target required"), http.StatusBadRequest},
		{"unknown target", UnknownTarget("edge"), http.StatusUnprocessableEntity},
		{"not found", NotFound("run", "r-1"), http.StatusNotFound},
		{"conflict", Conflict("run", "r-1", "exists"), http.StatusConflict},
		{"internal", Internal("op", errors.New("x")), http.StatusInternalServerError},
		{"plain error", errors.New("plain"), http.StatusInternalServerError},
		{"wrapped validation", fmt.Errorf("context: %w", Validation("f", "m")), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
