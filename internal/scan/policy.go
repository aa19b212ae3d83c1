package scan

// Policy decides pass/fail for a set of findings.
type Policy struct {
	// Threshold is the lowest severity that fails the gate.
	Threshold Severity
}

// DefaultPolicy fails only on critical findings.
func DefaultPolicy() Policy {
	return Policy{Threshold: SeverityCritical}
}

// Evaluate returns whether the findings pass the policy and the worst
// severity observed. Unknown severities never trip the gate on their own;
// they rank below low.
func (p Policy) Evaluate(findings []Finding) (passed bool, worst Severity) {
	worst = SeverityUnknown
	passed = true
	for _, f := range findings {
		if severityRank[f.Severity] > severityRank[worst] {
			worst = f.Severity
		}
		if f.Severity.AtLeast(p.Threshold) {
			passed = false
		}
	}
	return passed, worst
}
