package core

import "fmt"

// EvidenceSummary is the snapshot the gate decides on. It is computed
// from the execution log and the evidence index, never from raw tool
// output.
type EvidenceSummary struct {
	Planned  int     // invocations planned this iteration
	Executed int     // invocations attempted this iteration
	Usable   int     // calls with usable results, all iterations
	Sources  int     // distinct sources indexed so far
	Coverage float64 // query-term coverage of the evidence index, 0..1
}

// SufficiencyPolicy judges whether the gathered evidence is enough to
// answer. Implementations must be pure.
type SufficiencyPolicy interface {
	Sufficient(s EvidenceSummary) (bool, string)
}

// CoveragePolicy requires a minimum number of usable results and a
// minimum query-term coverage of the indexed evidence.
type CoveragePolicy struct {
	MinUsable         int
	CoverageThreshold float64
}

func (p CoveragePolicy) Sufficient(s EvidenceSummary) (bool, string) {
	if s.Usable < p.MinUsable {
		return false, fmt.Sprintf("%d usable results, need %d", s.Usable, p.MinUsable)
	}
	if s.Coverage < p.CoverageThreshold {
		return false, fmt.Sprintf("coverage %.2f below %.2f", s.Coverage, p.CoverageThreshold)
	}
	return true, fmt.Sprintf("%d usable results, coverage %.2f", s.Usable, s.Coverage)
}

// Gate decides continue-or-proceed after each execute pass. The ceiling
// is a hard bound: at or past it the gate always proceeds, whatever the
// policy says.
type Gate struct {
	Ceiling int
	Policy  SufficiencyPolicy
}

// Decide returns the gate decision for the given iteration (1-based)
// and a human-readable reason. A turn that planned nothing proceeds
// immediately: with no tools to run, more iterations cannot add
// evidence.
func (g Gate) Decide(s EvidenceSummary, iteration int) (Decision, string) {
	if s.Planned == 0 {
		return DecisionProceed, "no tool invocations planned"
	}
	if iteration >= g.Ceiling {
		return DecisionProceed, fmt.Sprintf("iteration ceiling %d reached", g.Ceiling)
	}
	ok, reason := g.Policy.Sufficient(s)
	if ok {
		return DecisionProceed, reason
	}
	return DecisionContinue, reason
}
