package orchestrator

import (
	"fmt"

	"github.com/lucasnoah/refactorswarm/internal/pipeline"
)

// rateEpsilon absorbs float error when comparing a pass rate to a threshold.
const rateEpsilon = 1e-9

// EvaluateSuccess decides the outcome of the final iteration. A failed
// pre-test gate fails the run regardless of the threshold; a run without
// tests succeeds vacuously.
func EvaluateSuccess(r *pipeline.ValidationReport, threshold float64) (bool, string) {
	switch {
	case r == nil:
		return false, "no validation report"
	case r.GateFailed == pipeline.GateSyntax:
		return false, "syntax errors present"
	case r.GateFailed != "":
		return false, fmt.Sprintf("%s gate failed", r.GateFailed)
	case r.TestsTotal == 0:
		return true, "no tests available"
	}

	rate := r.SuccessRate()
	if rate+rateEpsilon >= threshold {
		return true, fmt.Sprintf("success rate %.1f%% meets threshold %.1f%%", rate*100, threshold*100)
	}
	return false, fmt.Sprintf("success rate %.1f%% below threshold %.1f%%", rate*100, threshold*100)
}
