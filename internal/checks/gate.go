package checks

import (
	"context"
	"fmt"

	"github.com/lucasnoah/refactorswarm/internal/pipeline"
)

// SuiteResult is the sum of the test runs of every test directory.
type SuiteResult struct {
	AllPassed bool                     `json:"all_passed"`
	Passed    int                      `json:"tests_passed"`
	Failed    int                      `json:"tests_failed"`
	Total     int                      `json:"tests_total"`
	TimedOut  bool                     `json:"timed_out,omitempty"`
	Runs      []*TestRun               `json:"runs"`
	Failures  []pipeline.FailureRecord `json:"failures,omitempty"`
}

// SuiteOpts configures a suite run.
type SuiteOpts struct {
	Dirs []string
	// StopOnTimeout skips the remaining directories after a timeout.
	StopOnTimeout bool
	// OnRun is called after each directory, for history logging.
	OnRun func(run *TestRun)
}

// RunSuite executes the test directories in order and sums their counts.
// Failure records are concatenated in directory order.
func RunSuite(ctx context.Context, exec TestExecutor, opts SuiteOpts) (*SuiteResult, error) {
	suite := &SuiteResult{}

	for _, dir := range opts.Dirs {
		run, err := exec.Run(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("run tests in %s: %w", dir, err)
		}
		suite.Runs = append(suite.Runs, run)
		if opts.OnRun != nil {
			opts.OnRun(run)
		}

		suite.Passed += run.Passed
		suite.Failed += run.Failed
		suite.Total += run.Total
		suite.Failures = append(suite.Failures, run.Failures...)

		if run.TimedOut {
			suite.TimedOut = true
			if opts.StopOnTimeout {
				break
			}
		}
	}

	suite.AllPassed = !suite.TimedOut && suite.Failed == 0
	return suite, nil
}
