// Package orchestrator runs the refactoring state machine: discover, audit,
// generate tests, then fix and validate until the tests pass or the
// iteration budget runs out.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lucasnoah/refactorswarm/internal/checks"
	"github.com/lucasnoah/refactorswarm/internal/classify"
	"github.com/lucasnoah/refactorswarm/internal/config"
	appctx "github.com/lucasnoah/refactorswarm/internal/context"
	"github.com/lucasnoah/refactorswarm/internal/db"
	"github.com/lucasnoah/refactorswarm/internal/logger"
	"github.com/lucasnoah/refactorswarm/internal/metrics"
	"github.com/lucasnoah/refactorswarm/internal/oracle"
	"github.com/lucasnoah/refactorswarm/internal/pipeline"
	"github.com/lucasnoah/refactorswarm/internal/pysyntax"
	"github.com/lucasnoah/refactorswarm/internal/retry"
	"github.com/lucasnoah/refactorswarm/internal/testgen"
	"github.com/lucasnoah/refactorswarm/internal/validate"
)

// lintIssuesPerFile is how many lint issues travel with each audited file.
const lintIssuesPerFile = 5

// RunEnv is handed to the oracle factory once the run's artifacts exist.
type RunEnv struct {
	RunID   string
	RunDir  string
	RunLog  *logger.RunLog
	Metrics *metrics.Metrics
}

// Deps are the collaborators of a run.
type Deps struct {
	NewOracle func(env RunEnv) (oracle.Oracle, error)
	// Analyzer defaults to checks.NoopAnalyzer.
	Analyzer checks.StaticAnalyzer
	Tests    checks.TestExecutor
	Store    *pipeline.Store
	// DB records run history. Nil disables it.
	DB  *db.DB
	Log logger.Logger
}

// Orchestrator composes the phases of a run.
type Orchestrator struct {
	cfg   *config.SwarmConfig
	deps  Deps
	log   logger.Logger
	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

// New creates an Orchestrator.
func New(cfg *config.SwarmConfig, deps Deps) *Orchestrator {
	if deps.Analyzer == nil {
		deps.Analyzer = checks.NoopAnalyzer{}
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, log: log, sleep: sleepCtx, now: time.Now}
}

// SetSleep overrides the cooldown sleep (for testing).
func (o *Orchestrator) SetSleep(fn func(ctx context.Context, d time.Duration)) {
	o.sleep = fn
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// run carries the per-run state passed between phases.
type run struct {
	st      *pipeline.SwarmState
	root    string
	files   []string
	known   []string
	runLog  *logger.RunLog
	metrics *metrics.Metrics
	oracle  oracle.Oracle
	lastRun *pipeline.ValidationReport
	used    int
}

// Run executes a whole run over targetDir. The report is returned whenever
// the run got past INIT, also together with an error. A cancelled ctx stops
// the run at the next phase boundary; calls already in flight complete.
func (o *Orchestrator) Run(ctx context.Context, targetDir string) (*pipeline.Report, error) {
	start := o.now()

	root, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, fmt.Errorf("resolve target dir: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("target dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("target %s is not a directory", root)
	}

	lock, err := pipeline.LockTarget(o.cfg.StateDir, root)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	st, err := o.deps.Store.Create(root, o.cfg.MaxIterations, o.cfg.SuccessThreshold)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	runLog, err := logger.OpenRunLog(o.deps.Store.RunLogPath(st.RunID))
	if err != nil {
		return nil, err
	}
	defer runLog.Close()

	r := &run{st: st, root: root, runLog: runLog, metrics: metrics.New()}
	if o.deps.DB != nil {
		if err := o.deps.DB.StartRun(st.RunID, root, o.cfg.MaxIterations, o.cfg.SuccessThreshold); err != nil {
			o.log.Warnf("history: %v", err)
		}
	}
	o.log.Infof("run %s: target %s", st.RunID, root)

	report, err := o.execute(ctx, r)
	report.Elapsed = o.now().Sub(start)
	o.finish(r, report)
	return report, err
}

// execute walks the phases. It always returns a report.
func (o *Orchestrator) execute(ctx context.Context, r *run) (*pipeline.Report, error) {
	// Collaborators finish in-flight work after an interrupt; cancellation
	// is observed at phase boundaries only.
	cctx := context.WithoutCancel(ctx)

	o.enter(r, pipeline.PhaseInit, r.root)
	orc, err := o.deps.NewOracle(RunEnv{
		RunID:   r.st.RunID,
		RunDir:  o.deps.Store.RunDir(r.st.RunID),
		RunLog:  r.runLog,
		Metrics: r.metrics,
	})
	if err != nil {
		return o.failed(r, pipeline.PhaseInit, err), err
	}
	r.oracle = orc

	if err := o.phase(r, pipeline.PhaseDiscover, func() error { return o.discover(cctx, r) }); err != nil {
		return o.failed(r, pipeline.PhaseDiscover, err), err
	}
	if len(r.files) == 0 {
		return o.report(r, false, fmt.Sprintf("no Python source files found in %s", r.root)), nil
	}

	if rep, err := o.boundary(ctx, r, pipeline.PhaseAudit); rep != nil {
		return rep, err
	}
	if err := o.phase(r, pipeline.PhaseAudit, func() error { return o.audit(cctx, r) }); err != nil {
		return o.failed(r, pipeline.PhaseAudit, err), err
	}

	if rep, err := o.boundary(ctx, r, pipeline.PhaseGenerateTests); rep != nil {
		return rep, err
	}
	if err := o.phase(r, pipeline.PhaseGenerateTests, func() error { return o.generateTests(cctx, r) }); err != nil {
		return o.failed(r, pipeline.PhaseGenerateTests, err), err
	}

	engine := validate.NewEngine(r.root, o.deps.Tests, validate.Options{
		MinLength: o.cfg.Completeness.MinLength,
		MinRatio:  o.cfg.Completeness.MinRatio,
		Metrics:   r.metrics,
		Log:       o.log,
		OnTestRun: func(tr *checks.TestRun) {
			if o.deps.DB != nil {
				_ = o.deps.DB.LogCheckRun(r.st.RunID, r.st.CurrentIteration, "pytest", tr.Dir, tr.Failed == 0 && !tr.TimedOut, tr.ExitCode, tr.DurationMs, tr.Summary())
			}
		},
	})
	coord := retry.New(r.oracle, engine, appctx.NewBuilder(o.templateDir()), retry.Options{
		MaxRetries: o.cfg.MaxRetries,
		RunID:      r.st.RunID,
		TargetDir:  r.root,
		Store:      o.deps.Store,
		DB:         o.deps.DB,
		RunLog:     r.runLog,
		Metrics:    r.metrics,
		Log:        o.log,
	})
	testDirs, err := checks.TestDirs(r.root)
	if err != nil {
		return o.failed(r, pipeline.PhaseGenerateTests, err), err
	}
	classifier := classify.New(o.cfg.MaxDirectives, r.known).
		WithTestSource(classify.TestSourceLoader(append([]string{r.root}, testDirs...)...))

	for it := 1; it <= o.cfg.MaxIterations; it++ {
		if rep, err := o.boundary(ctx, r, pipeline.PhaseFix); rep != nil {
			return rep, err
		}
		r.st.CurrentIteration = it
		o.log.Infof("iteration %d/%d", it, o.cfg.MaxIterations)

		snap, err := pipeline.TakeSnapshot(r.files)
		if err != nil {
			return o.failed(r, pipeline.PhaseFix, err), err
		}

		err = o.phase(r, pipeline.PhaseFix, func() error {
			res, err := coord.Fix(cctx, it, r.st.Plan, r.st.Directives, snap)
			if err != nil {
				return err
			}
			for _, f := range res.Files {
				r.st.MarkProcessed(f.File)
			}
			r.st.BugsFixed += res.BugsFixed()
			o.log.Infof("fix: %d files worked, %d changed", len(res.Files), len(res.Changed()))
			return nil
		})
		if err != nil {
			return o.failed(r, pipeline.PhaseFix, err), err
		}

		if rep, err := o.boundary(ctx, r, pipeline.PhaseValidate); rep != nil {
			return rep, err
		}
		var vr *pipeline.ValidationReport
		err = o.phase(r, pipeline.PhaseValidate, func() error {
			var err error
			vr, err = engine.Validate(cctx, snap)
			return err
		})
		if err != nil {
			return o.failed(r, pipeline.PhaseValidate, err), err
		}
		r.lastRun = vr
		r.st.LastReport = vr
		r.used = it
		r.metrics.Iteration(vr.TestsPassed, vr.TestsTotal)
		r.st.Directives = classifier.Classify(vr.FailureRecords)

		o.enter(r, pipeline.PhaseDecide, fmt.Sprintf("passed=%d total=%d gate=%s", vr.TestsPassed, vr.TestsTotal, vr.GateFailed))
		if vr.AllTestsPassed() {
			return o.report(r, true, fmt.Sprintf("all %d tests passed", vr.TestsTotal)), nil
		}
		if it == o.cfg.MaxIterations {
			ok, reason := EvaluateSuccess(vr, o.cfg.SuccessThreshold)
			if ok && vr.TestsTotal == 0 {
				o.log.Warnf("no tests available; success is vacuous")
			}
			return o.report(r, ok, reason), nil
		}
		o.sleep(ctx, o.cfg.CooldownDuration())
	}

	// MaxIterations < 1 is rejected by config validation.
	return o.report(r, false, "no iterations run"), nil
}

// boundary stops the run when ctx has been cancelled. It returns a nil
// report when the run may continue.
func (o *Orchestrator) boundary(ctx context.Context, r *run, next pipeline.Phase) (*pipeline.Report, error) {
	if ctx.Err() == nil {
		return nil, nil
	}
	o.log.Warnf("interrupted before %s", next)
	rep := o.report(r, false, fmt.Sprintf("interrupted before %s", next))
	rep.Interrupted = true
	return rep, ctx.Err()
}

// phase enters p, runs fn and records its duration.
func (o *Orchestrator) phase(r *run, p pipeline.Phase, fn func() error) error {
	o.enter(r, p, "")
	start := o.now()
	err := fn()
	r.metrics.Phase(string(p), o.now().Sub(start).Seconds())
	return err
}

// enter records a phase transition in the state file, the run log and the
// history database.
func (o *Orchestrator) enter(r *run, p pipeline.Phase, detail string) {
	r.st.Phase = p
	if err := o.deps.Store.Save(r.st); err != nil {
		o.log.Warnf("save state: %v", err)
	}
	if err := r.runLog.Record(logger.Entry{
		Agent:         "orchestrator",
		Action:        "phase",
		InputSummary:  fmt.Sprintf("%s iteration %d", p, r.st.CurrentIteration),
		OutputSummary: detail,
		Status:        logger.StatusInfo,
	}); err != nil {
		o.log.Warnf("run log: %v", err)
	}
	if o.deps.DB != nil {
		_ = o.deps.DB.LogRunEvent(r.st.RunID, string(p), "phase_start", r.st.CurrentIteration, detail)
	}
	o.log.Debugf("phase %s", p)
}

// failed builds the report of a run halted by err in phase p.
func (o *Orchestrator) failed(r *run, p pipeline.Phase, err error) *pipeline.Report {
	o.log.Errorf("%s failed: %v", p, err)
	_ = r.runLog.Record(logger.Entry{
		Agent:         "orchestrator",
		Action:        "halt",
		InputSummary:  string(p),
		OutputSummary: err.Error(),
		Status:        logger.StatusFailure,
	})
	return o.report(r, false, fmt.Sprintf("%s failed: %v", p, err))
}

// report assembles the final report from the run state and enters the
// terminal phase.
func (o *Orchestrator) report(r *run, success bool, reason string) *pipeline.Report {
	rep := &pipeline.Report{
		RunID:          r.st.RunID,
		Success:        success,
		Reason:         reason,
		IterationsUsed: r.used,
		MaxIterations:  o.cfg.MaxIterations,
		FilesProcessed: len(r.st.FilesProcessed),
		BugsFixed:      r.st.BugsFixed,
		Threshold:      o.cfg.SuccessThreshold,
		TargetDir:      r.root,
	}
	if r.lastRun != nil {
		rep.TestsPassed = r.lastRun.TestsPassed
		rep.TestsTotal = r.lastRun.TestsTotal
		rep.SuccessRate = r.lastRun.SuccessRate()
	}
	if success {
		o.enter(r, pipeline.PhaseDone, reason)
	} else {
		o.enter(r, pipeline.PhaseFailed, reason)
	}
	return rep
}

// finish persists the report, history row and metrics.
func (o *Orchestrator) finish(r *run, rep *pipeline.Report) {
	if err := o.deps.Store.SaveReport(rep); err != nil {
		o.log.Warnf("save report: %v", err)
	}
	if o.deps.DB != nil {
		if err := o.deps.DB.FinishRun(rep.RunID, db.RunSummary{
			Success:        rep.Success,
			Reason:         rep.Reason,
			IterationsUsed: rep.IterationsUsed,
			FilesProcessed: rep.FilesProcessed,
			BugsFixed:      rep.BugsFixed,
			TestsPassed:    rep.TestsPassed,
			TestsTotal:     rep.TestsTotal,
		}); err != nil {
			o.log.Warnf("history: %v", err)
		}
	}
	r.metrics.Finish(rep.Success)
	if err := r.metrics.WriteTextfile(o.deps.Store.MetricsPath(rep.RunID)); err != nil {
		o.log.Warnf("metrics: %v", err)
	}
	status := logger.StatusFailure
	if rep.Success {
		status = logger.StatusSuccess
	}
	_ = r.runLog.Record(logger.Entry{
		Agent:         "orchestrator",
		Action:        "finish",
		OutputSummary: rep.Reason,
		Status:        status,
	})
}

func (o *Orchestrator) templateDir() string {
	return filepath.Join(o.cfg.StateDir, "templates")
}

func (o *Orchestrator) discover(ctx context.Context, r *run) error {
	files, err := Discover(r.root, o.cfg.TestDir, o.cfg.Exclude)
	if err != nil {
		return err
	}
	r.files = files
	r.st.FilesToProcess = files

	seen := make(map[string]bool)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		mod, err := pysyntax.Parse(ctx, data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", f, err)
		}
		for _, name := range mod.FunctionNames() {
			if !seen[name] {
				seen[name] = true
				r.known = append(r.known, name)
			}
		}
	}
	o.log.Infof("discovered %d source files", len(files))
	return nil
}

func (o *Orchestrator) audit(ctx context.Context, r *run) error {
	sources := make([]pipeline.SourceFile, 0, len(r.files))
	for _, f := range r.files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		an, err := o.deps.Analyzer.Analyze(ctx, f)
		if err != nil {
			return err
		}
		if an.TimedOut {
			o.log.Warnf("%s: static analysis timed out, using default score", f)
		}
		sources = append(sources, pipeline.SourceFile{
			Path:       f,
			Content:    string(data),
			LintScore:  an.Score,
			LintIssues: an.Top(lintIssuesPerFile),
		})
	}

	plan, err := r.oracle.Audit(ctx, sources)
	if err != nil {
		return err
	}
	if plan == nil {
		plan = &pipeline.Plan{}
	}
	plan.Retain(r.files)
	r.st.Plan = plan
	o.log.Infof("audit: %d findings in %d files", plan.Total(), len(plan.Files))
	return nil
}

func (o *Orchestrator) generateTests(ctx context.Context, r *run) error {
	gen := testgen.New(r.oracle, o.cfg.TestDir, o.log)
	suites, err := gen.Generate(ctx, r.root, r.files)
	if err != nil {
		return err
	}
	fallbacks := 0
	for _, s := range suites {
		if s.Fallback {
			fallbacks++
		}
	}
	o.log.Infof("generated %d test modules (%d fallback)", len(suites), fallbacks)
	return nil
}
