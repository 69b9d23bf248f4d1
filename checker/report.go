package checker

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Report is the verdict object of a full run.
type Report struct {
	RunID       string            `json:"run_id"`
	Workload    string            `json:"workload"`
	Nemesis     string            `json:"nemesis"`
	Operations  int               `json:"operations"`
	Causal      CausalResult      `json:"causal_consistency"`
	Convergence ConvergenceResult `json:"strong_convergence"`
}

// NewReport stamps a fresh run identifier.
func NewReport(workload, nemesis string) *Report {
	return &Report{RunID: uuid.NewString(), Workload: workload, Nemesis: nemesis}
}

// Passed reports whether both checks passed outright. Indeterminate counts
// as not passed; callers surface the per-pass results for diagnosis.
func (r *Report) Passed() bool {
	return r.Causal.Verdict == VerdictPass && r.Convergence.Verdict == VerdictPass
}

func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
