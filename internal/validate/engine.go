package validate

import (
	"context"
	"fmt"
	"os"

	"github.com/lucasnoah/refactorswarm/internal/checks"
	"github.com/lucasnoah/refactorswarm/internal/logger"
	"github.com/lucasnoah/refactorswarm/internal/metrics"
	"github.com/lucasnoah/refactorswarm/internal/pipeline"
	"github.com/lucasnoah/refactorswarm/internal/pysyntax"
)

// Options configures an Engine.
type Options struct {
	MinLength int
	MinRatio  float64
	// OnTestRun is called after each test directory, for history logging.
	OnTestRun func(run *checks.TestRun)
	Metrics   *metrics.Metrics
	Log       logger.Logger
}

// Engine validates the tree after each fix phase.
type Engine struct {
	*Checker
	root    string
	tests   checks.TestExecutor
	onRun   func(*checks.TestRun)
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewEngine creates an Engine over the tree at root.
func NewEngine(root string, tests checks.TestExecutor, opts Options) *Engine {
	e := &Engine{
		Checker: NewChecker(opts.MinLength, opts.MinRatio),
		root:    root,
		tests:   tests,
		onRun:   opts.OnTestRun,
		metrics: opts.Metrics,
		log:     opts.Log,
	}
	if e.log == nil {
		e.log = logger.Nop()
	}
	return e
}

// Root returns the validated tree.
func (e *Engine) Root() string {
	return e.root
}

// CheckCandidate runs the per-file gates and records their outcomes.
func (e *Engine) CheckCandidate(ctx context.Context, file, original, candidate string) (*CandidateResult, error) {
	res, err := e.Checker.CheckCandidate(ctx, file, original, candidate)
	if err != nil {
		return nil, err
	}
	for _, g := range res.Gates {
		e.metrics.Gate(g.Gate, g.Passed)
	}
	return res, nil
}

// Validate runs the gates over the current content of every snapshot file,
// stopping at the first failing category, then the test suites of every
// test directory under the root. Snapshot content is the baseline for the
// signature and completeness gates; unchanged files pass both trivially.
func (e *Engine) Validate(ctx context.Context, snapshot pipeline.Snapshot) (*pipeline.ValidationReport, error) {
	report := &pipeline.ValidationReport{}

	type parsed struct {
		file, content string
		mod           *pysyntax.Module
	}
	var files []parsed
	for _, f := range snapshot.Files() {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		mod, err := pysyntax.Parse(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f, err)
		}
		for _, se := range mod.Errors {
			report.SyntaxErrors = append(report.SyntaxErrors, pipeline.SyntaxError{File: f, Line: se.Line, Message: se.Message})
		}
		files = append(files, parsed{file: f, content: string(data), mod: mod})
	}
	report.SyntaxPassed = len(report.SyntaxErrors) == 0
	if !report.SyntaxPassed {
		e.log.Warnf("syntax gate failed: %d errors", len(report.SyntaxErrors))
		report.GateFailed = pipeline.GateSyntax
		return report, nil
	}

	var changed []parsed
	for _, p := range files {
		if p.content != snapshot[p.file] {
			changed = append(changed, p)
		}
	}

	for _, p := range changed {
		orig, err := pysyntax.Parse(ctx, []byte(snapshot[p.file]))
		if err != nil {
			return nil, fmt.Errorf("parse snapshot %s: %w", p.file, err)
		}
		for _, v := range SignatureViolations(orig.PublicSignatures(), p.mod.PublicSignatures()) {
			report.SignatureViolations = append(report.SignatureViolations, p.file+": "+v)
		}
	}
	if len(report.SignatureViolations) > 0 {
		e.log.Warnf("signature gate failed: %d violations", len(report.SignatureViolations))
		report.GateFailed = pipeline.GateSignature
		return report, nil
	}

	for _, p := range changed {
		orig, err := pysyntax.Parse(ctx, []byte(snapshot[p.file]))
		if err != nil {
			return nil, fmt.Errorf("parse snapshot %s: %w", p.file, err)
		}
		g := e.CompletenessGate(snapshot[p.file], p.content, orig, p.mod)
		for _, v := range g.Violations {
			report.CompletenessErrors = append(report.CompletenessErrors, p.file+": "+v)
		}
	}
	report.CompletenessPassed = len(report.CompletenessErrors) == 0
	if !report.CompletenessPassed {
		e.log.Warnf("completeness gate failed: %d violations", len(report.CompletenessErrors))
		report.GateFailed = pipeline.GateCompleteness
		return report, nil
	}

	dirs, err := checks.TestDirs(e.root)
	if err != nil {
		return nil, err
	}
	suite, err := checks.RunSuite(ctx, e.tests, checks.SuiteOpts{Dirs: dirs, StopOnTimeout: true, OnRun: e.onRun})
	if err != nil {
		return nil, err
	}
	report.TestsPassed = suite.Passed
	report.TestsFailed = suite.Failed
	report.TestsTotal = suite.Total
	report.TimedOut = suite.TimedOut
	report.FailureRecords = suite.Failures
	if suite.TimedOut {
		e.log.Warnf("test execution timed out")
		report.GateFailed = pipeline.GateTests
	}
	e.metrics.Gate(pipeline.GateTests, suite.AllPassed && suite.Total > 0)
	e.log.Infof("tests: %d/%d passed across %d dirs", suite.Passed, suite.Total, len(dirs))
	return report, nil
}
