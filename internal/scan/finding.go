// Package scan gates artifacts on vulnerability findings before any deploy
// branch may start.
package scan

import (
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// Severity is a normalized finding severity.
type Severity string

const (
	SeverityUnknown  Severity = "unknown"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for threshold comparison.
var severityRank = map[Severity]int{
	SeverityUnknown:  0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity normalizes a scanner-reported severity string.
// Unrecognized values map to SeverityUnknown.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(s)) {
	case SeverityLow:
		return SeverityLow
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityUnknown
	}
}

// AtLeast reports whether s is at or above the threshold severity.
func (s Severity) AtLeast(threshold Severity) bool {
	return severityRank[s] >= severityRank[threshold]
}

// Finding is one vulnerability reported by the scanner.
type Finding struct {
	ID       string   `json:"id"`       // e.g. CVE-2024-12345
	Package  string   `json:"package"`  // affected package name
	Version  string   `json:"version"`  // installed version
	Severity Severity `json:"severity"`
	Title    string   `json:"title,omitempty"`
}

// Verdict is the immutable scan result for one artifact digest.
type Verdict struct {
	Digest    digest.Digest `json:"digest"`
	Findings  []Finding     `json:"findings"`
	Passed    bool          `json:"passed"`
	Worst     Severity      `json:"worst"`
	ScannedAt time.Time     `json:"scannedAt"`
}

// SeverityCounts returns finding counts keyed by severity name.
func (v *Verdict) SeverityCounts() map[string]int {
	counts := make(map[string]int)
	for _, f := range v.Findings {
		counts[string(f.Severity)]++
	}
	return counts
}
