package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	"shipyard/internal/apperrors"
	"shipyard/internal/artifact"
	"shipyard/pkg/backoff"
)

// Gate scans artifacts and caches the verdict by digest.
//
// Verdicts are deterministic for a digest, so re-scanning an unchanged
// artifact is a cache hit and never touches the scan service. Transient
// scanner errors are retried with bounded exponential backoff; exhausting
// the retries yields ErrScanUnavailable, which is distinct from a failing
// verdict.
type Gate struct {
	scanner Scanner
	policy  Policy
	cfg     Config

	mu    sync.Mutex
	cache map[digest.Digest]*Verdict
}

// NewGate creates a vulnerability gate.
func NewGate(scanner Scanner, policy Policy, cfg Config) *Gate {
	cfg = cfg.withDefaults()
	return &Gate{
		scanner: scanner,
		policy:  policy,
		cfg:     cfg,
		cache:   make(map[digest.Digest]*Verdict),
	}
}

// Check returns the verdict for the artifact, scanning it if no verdict is
// cached for its digest. A failing verdict is returned with a nil error; the
// caller decides how to act on it.
func (g *Gate) Check(ctx context.Context, art *artifact.Artifact) (*Verdict, error) {
	g.mu.Lock()
	if verdict, ok := g.cache[art.Digest]; ok {
		g.mu.Unlock()
		return verdict, nil
	}
	g.mu.Unlock()

	logger := slog.With("component", "scan", "digest", art.Digest.String())

	var findings []Finding
	var lastErr error
	for attempt := 1; attempt <= g.cfg.Attempts; attempt++ {
		findings, lastErr = g.scanner.Scan(ctx, art.ImageRef)
		if lastErr == nil {
			break
		}
		logger.Warn("Scan attempt failed", "attempt", attempt, "error", lastErr)
		if attempt == g.cfg.Attempts {
			break
		}
		if err := backoff.Sleep(ctx, backoff.Exponential(attempt, &g.cfg.Backoff)); err != nil {
			return nil, apperrors.ScanUnavailable(attempt, err)
		}
	}
	if lastErr != nil {
		return nil, apperrors.ScanUnavailable(g.cfg.Attempts, lastErr)
	}

	passed, worst := g.policy.Evaluate(findings)
	verdict := &Verdict{
		Digest:    art.Digest,
		Findings:  findings,
		Passed:    passed,
		Worst:     worst,
		ScannedAt: time.Now().UTC(),
	}

	g.mu.Lock()
	// Another goroutine may have scanned the same digest concurrently;
	// keep the first verdict so the cache stays consistent.
	if existing, ok := g.cache[art.Digest]; ok {
		verdict = existing
	} else {
		g.cache[art.Digest] = verdict
	}
	g.mu.Unlock()

	logger.Info("Scan verdict", "passed", verdict.Passed, "findings", len(verdict.Findings), "worst", verdict.Worst)
	return verdict, nil
}
