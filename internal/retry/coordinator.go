// Package retry runs the bounded fix attempts for each file of an
// iteration and writes exactly one final version per file.
package retry

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lucasnoah/refactorswarm/internal/classify"
	appctx "github.com/lucasnoah/refactorswarm/internal/context"
	"github.com/lucasnoah/refactorswarm/internal/db"
	"github.com/lucasnoah/refactorswarm/internal/logger"
	"github.com/lucasnoah/refactorswarm/internal/metrics"
	"github.com/lucasnoah/refactorswarm/internal/oracle"
	"github.com/lucasnoah/refactorswarm/internal/pipeline"
	"github.com/lucasnoah/refactorswarm/internal/pysyntax"
	"github.com/lucasnoah/refactorswarm/internal/validate"
)

// CandidateChecker runs the per-file gates.
type CandidateChecker interface {
	CheckCandidate(ctx context.Context, file, original, candidate string) (*validate.CandidateResult, error)
}

// Options configures a Coordinator.
type Options struct {
	MaxRetries int
	RunID      string
	TargetDir  string
	// Store holds the run's backups. Nil disables backups.
	Store   *pipeline.Store
	DB      *db.DB
	RunLog  *logger.RunLog
	Metrics *metrics.Metrics
	Log     logger.Logger
}

// Coordinator drives the fix attempts of one iteration.
type Coordinator struct {
	oracle  oracle.Oracle
	checker CandidateChecker
	builder *appctx.Builder
	opts    Options
	log     logger.Logger
}

// New creates a Coordinator.
func New(o oracle.Oracle, checker CandidateChecker, builder *appctx.Builder, opts Options) *Coordinator {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	c := &Coordinator{oracle: o, checker: checker, builder: builder, opts: opts, log: opts.Log}
	if c.log == nil {
		c.log = logger.Nop()
	}
	return c
}

// FileResult is the outcome of one file in one iteration.
type FileResult struct {
	File     string             `json:"file"`
	Attempts []pipeline.Attempt `json:"attempts"`
	Accepted bool               `json:"accepted"`
	Changed  bool               `json:"changed"`
	Findings int                `json:"findings"`
	Diff     DiffStat           `json:"diff"`
}

// Result is the outcome of a fix phase.
type Result struct {
	Files []FileResult `json:"files"`
}

// Changed returns the files whose content changed.
func (r *Result) Changed() []string {
	var out []string
	for _, f := range r.Files {
		if f.Changed {
			out = append(out, f.File)
		}
	}
	return out
}

// BugsFixed counts the findings of the files that changed.
func (r *Result) BugsFixed() int {
	n := 0
	for _, f := range r.Files {
		if f.Changed {
			n += f.Findings
		}
	}
	return n
}

// workItem is one file with pending work.
type workItem struct {
	file       string
	findings   []pipeline.Finding
	directives []pipeline.Directive
	module     *pysyntax.Module
}

// Fix repairs every file with pending work. Files with findings come first
// in plan order, then files only targeted by directives in path order.
// Directives that name no known function go to every file worked on, or to
// every file when nothing else is pending.
func (c *Coordinator) Fix(ctx context.Context, iteration int, plan *pipeline.Plan, directives []pipeline.Directive, snapshot pipeline.Snapshot) (*Result, error) {
	items, err := c.pending(ctx, plan, directives, snapshot)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, it := range items {
		fr, err := c.fixFile(ctx, iteration, it, snapshot[it.file])
		if err != nil {
			return nil, err
		}
		res.Files = append(res.Files, *fr)
	}
	return res, nil
}

func (c *Coordinator) pending(ctx context.Context, plan *pipeline.Plan, directives []pipeline.Directive, snapshot pipeline.Snapshot) ([]*workItem, error) {
	byFile := make(map[string]*workItem)
	var order []string
	add := func(file string) *workItem {
		if it, ok := byFile[file]; ok {
			return it
		}
		it := &workItem{file: file}
		byFile[file] = it
		order = append(order, file)
		return it
	}

	modules := make(map[string]*pysyntax.Module, len(snapshot))
	for _, f := range snapshot.Files() {
		m, err := pysyntax.Parse(ctx, []byte(snapshot[f]))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f, err)
		}
		modules[f] = m
	}

	if plan != nil {
		for _, fp := range plan.Files {
			if _, ok := snapshot[fp.File]; !ok || len(fp.Findings) == 0 {
				continue
			}
			add(fp.File).findings = fp.Findings
		}
	}

	claimed := make(map[pipeline.Directive]bool)
	for _, f := range snapshot.Files() {
		ds := classify.ForFunctions(directives, modules[f].FunctionNames())
		if len(ds) == 0 {
			continue
		}
		it := add(f)
		it.directives = append(it.directives, ds...)
		for _, d := range ds {
			claimed[d] = true
		}
	}

	var orphans []pipeline.Directive
	for _, d := range directives {
		if !claimed[d] {
			orphans = append(orphans, d)
		}
	}
	if len(orphans) > 0 {
		if len(order) == 0 {
			for _, f := range snapshot.Files() {
				add(f)
			}
		}
		for _, f := range order {
			byFile[f].directives = append(byFile[f].directives, orphans...)
		}
	}

	items := make([]*workItem, len(order))
	for i, f := range order {
		items[i] = byFile[f]
		items[i].module = modules[f]
	}
	return items, nil
}

func (c *Coordinator) fixFile(ctx context.Context, iteration int, it *workItem, original string) (*FileResult, error) {
	fr := &FileResult{File: it.file, Findings: len(it.findings)}
	maxAttempts := c.opts.MaxRetries + 1
	rel := c.relPath(it.file)

	final := original
	var last *pipeline.GateResult
	for attempt := 0; attempt < maxAttempts; attempt++ {
		built, err := c.builder.Build(appctx.BuildOpts{
			File:          rel,
			Findings:      it.findings,
			Directives:    it.directives,
			Signatures:    it.module.PublicSignatures(),
			Attempt:       attempt,
			MaxAttempts:   maxAttempts,
			LastRejection: last,
		})
		if err != nil {
			return nil, fmt.Errorf("build context for %s: %w", rel, err)
		}

		candidate, err := c.oracle.Fix(ctx, original, built.Findings, built.Context)
		if err != nil {
			return nil, err
		}
		check, err := c.checker.CheckCandidate(ctx, it.file, original, candidate)
		if err != nil {
			return nil, fmt.Errorf("check candidate for %s: %w", rel, err)
		}

		a := pipeline.Attempt{
			File:        it.file,
			Iteration:   iteration,
			RetryIndex:  attempt,
			Candidate:   candidate,
			Accepted:    check.Passed,
			GateResults: check.Gates,
		}
		fr.Attempts = append(fr.Attempts, a)
		c.recordAttempt(rel, built.Mode, &a)

		if check.Passed {
			final = candidate
			fr.Accepted = true
			break
		}
		last = a.FailedGate()
		c.log.Warnf("%s: attempt %d/%d rejected by %s gate", rel, attempt+1, maxAttempts, last.Gate)
	}

	outcome := "fallback"
	if fr.Accepted {
		outcome = "accepted"
	}
	if final != original {
		if c.opts.Store != nil {
			if _, err := c.opts.Store.Backup(c.opts.RunID, c.opts.TargetDir, it.file); err != nil {
				return nil, err
			}
		}
		if err := pipeline.WriteAtomic(it.file, []byte(final)); err != nil {
			return nil, fmt.Errorf("write %s: %w", rel, err)
		}
		fr.Changed = true
		fr.Diff = LineDiff(original, final)
		c.log.Infof("%s: accepted on attempt %d (%s lines)", rel, len(fr.Attempts), fr.Diff)
	} else {
		if fr.Accepted {
			outcome = "unchanged"
		}
		c.log.Infof("%s: %s, content kept", rel, outcome)
	}
	c.opts.Metrics.FileOutcome(outcome)
	return fr, nil
}

func (c *Coordinator) recordAttempt(rel string, mode appctx.FidelityMode, a *pipeline.Attempt) {
	var gate string
	var violations []string
	status := logger.StatusSuccess
	if g := a.FailedGate(); g != nil {
		gate, violations, status = g.Gate, g.Violations, logger.StatusFailure
	}
	if c.opts.DB != nil {
		if err := c.opts.DB.LogAttempt(c.opts.RunID, a.Iteration, a.RetryIndex, rel, a.Accepted, gate, violations); err != nil {
			c.log.Warnf("log attempt: %v", err)
		}
	}
	out := "accepted"
	if gate != "" {
		out = fmt.Sprintf("rejected by %s gate", gate)
	}
	if err := c.opts.RunLog.Record(logger.Entry{
		Agent:         "validator",
		Action:        "check_candidate",
		InputSummary:  fmt.Sprintf("%s iteration %d attempt %d (%s)", rel, a.Iteration, a.RetryIndex+1, mode),
		OutputSummary: out,
		Status:        status,
	}); err != nil {
		c.log.Warnf("run log: %v", err)
	}
}

func (c *Coordinator) relPath(file string) string {
	if c.opts.TargetDir == "" {
		return file
	}
	rel, err := filepath.Rel(c.opts.TargetDir, file)
	if err != nil {
		return file
	}
	return rel
}
