package triage

// Verdict is the classification outcome for one indicator.
type Verdict string

const (
	VerdictBenign             Verdict = "benign"
	VerdictSuspicious         Verdict = "suspicious"
	VerdictMalicious          Verdict = "malicious"
	VerdictNeedsInvestigation Verdict = "needs_investigation"
)

// Known reports whether v is one of the four verdicts the planner
// understands. Anything else is a planning failure downstream.
func (v Verdict) Known() bool {
	switch v {
	case VerdictBenign, VerdictSuspicious, VerdictMalicious, VerdictNeedsInvestigation:
		return true
	}
	return false
}

// Result is the oracle's decision for one indicator. Produced once by the
// triage phase and immutable afterward; the adapter validates the shape
// but never invents or overrides a verdict.
type Result struct {
	Verdict             Verdict `json:"verdict"`
	Confidence          float64 `json:"confidence"`
	Reason              string  `json:"reason"`
	RecommendedAction   string  `json:"recommended_action"`
	RequiresHumanReview bool    `json:"requires_human_review"`
}
