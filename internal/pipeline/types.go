package pipeline

import (
	"sort"
	"strings"
	"time"
)

// Priority ranks a finding.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// NormalizePriority maps free-form priority text onto the three known levels.
// Anything unrecognized becomes MEDIUM.
func NormalizePriority(s string) Priority {
	switch Priority(strings.ToUpper(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Finding is a single audit issue for one file.
type Finding struct {
	File        string   `json:"file"`
	Line        int      `json:"line"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	Suggestion  string   `json:"suggestion"`
}

// FilePlan groups the findings for one file.
type FilePlan struct {
	File     string    `json:"file"`
	Findings []Finding `json:"findings"`
}

// Plan is the remediation plan produced by the audit phase. File keys are
// unique and keep their insertion order.
type Plan struct {
	Files []FilePlan `json:"files"`
}

// Add appends findings for file, merging with an existing entry.
func (p *Plan) Add(file string, findings ...Finding) {
	for i := range p.Files {
		if p.Files[i].File == file {
			p.Files[i].Findings = append(p.Files[i].Findings, findings...)
			return
		}
	}
	p.Files = append(p.Files, FilePlan{File: file, Findings: append([]Finding(nil), findings...)})
}

// Findings returns the findings recorded for file.
func (p *Plan) Findings(file string) []Finding {
	if p == nil {
		return nil
	}
	for _, fp := range p.Files {
		if fp.File == file {
			return fp.Findings
		}
	}
	return nil
}

// Total returns the number of findings across all files.
func (p *Plan) Total() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, fp := range p.Files {
		n += len(fp.Findings)
	}
	return n
}

// Retain drops every file entry not in keep.
func (p *Plan) Retain(keep []string) {
	allowed := make(map[string]bool, len(keep))
	for _, k := range keep {
		allowed[k] = true
	}
	var out []FilePlan
	for _, fp := range p.Files {
		if allowed[fp.File] {
			out = append(out, fp)
		}
	}
	p.Files = out
}

// SourceFile is one discovered source file handed to the audit phase.
type SourceFile struct {
	Path       string   `json:"path"`
	Content    string   `json:"content"`
	LintScore  float64  `json:"lint_score"`
	LintIssues []string `json:"lint_issues,omitempty"`
}

// Gate names, in evaluation order.
const (
	GateSyntax       = "syntax"
	GateSignature    = "signature"
	GateCompleteness = "completeness"
	GateTests        = "tests"
)

// GateResult is the outcome of one validation gate.
type GateResult struct {
	Gate       string   `json:"gate"`
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations,omitempty"`
}

// Attempt records one fix attempt for one file within an iteration.
type Attempt struct {
	File        string       `json:"file"`
	Iteration   int          `json:"iteration"`
	RetryIndex  int          `json:"retry_index"`
	Candidate   string       `json:"-"`
	Accepted    bool         `json:"accepted"`
	GateResults []GateResult `json:"gate_results"`
}

// FailedGate returns the first failing gate of the attempt, or nil.
func (a *Attempt) FailedGate() *GateResult {
	for i := range a.GateResults {
		if !a.GateResults[i].Passed {
			return &a.GateResults[i]
		}
	}
	return nil
}

// SyntaxError locates a parse failure in one file.
type SyntaxError struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// FailureRecord describes one failing test.
type FailureRecord struct {
	TestID     string `json:"test_id"`
	Message    string `json:"message"`
	Diagnostic string `json:"diagnostic"`
}

// ValidationReport aggregates the gate outcomes of one iteration.
type ValidationReport struct {
	SyntaxPassed        bool            `json:"syntax_passed"`
	SyntaxErrors        []SyntaxError   `json:"syntax_errors,omitempty"`
	SignatureViolations []string        `json:"signature_violations,omitempty"`
	CompletenessPassed  bool            `json:"completeness_passed"`
	CompletenessErrors  []string        `json:"completeness_errors,omitempty"`
	TestsPassed         int             `json:"tests_passed"`
	TestsFailed         int             `json:"tests_failed"`
	TestsTotal          int             `json:"tests_total"`
	TimedOut            bool            `json:"timed_out,omitempty"`
	FailureRecords      []FailureRecord `json:"failure_records,omitempty"`
	GateFailed          string          `json:"gate_failed,omitempty"`
}

// AllTestsPassed reports whether at least one test ran and none failed.
func (r *ValidationReport) AllTestsPassed() bool {
	return r != nil && r.GateFailed == "" && r.TestsTotal > 0 && r.TestsPassed == r.TestsTotal
}

// SuccessRate returns passed/total, or 0 when no tests ran.
func (r *ValidationReport) SuccessRate() float64 {
	if r == nil || r.TestsTotal == 0 {
		return 0
	}
	return float64(r.TestsPassed) / float64(r.TestsTotal)
}

// Category classifies a failing test for the next fix attempt.
type Category string

const (
	CategoryWrongExceptionType Category = "WRONG_EXCEPTION_TYPE"
	CategoryMissingException   Category = "MISSING_EXCEPTION"
	CategoryAssertionFailure   Category = "ASSERTION_FAILURE"
	CategoryImportError        Category = "IMPORT_ERROR"
	CategoryUnknown            Category = "UNKNOWN"
)

// Directive is targeted feedback derived from one failure record.
type Directive struct {
	Category       Category `json:"category"`
	TargetFunction string   `json:"target_function"`
	ActionText     string   `json:"action_text"`
}

// Phase is a state of the run state machine.
type Phase string

const (
	PhaseInit          Phase = "INIT"
	PhaseDiscover      Phase = "DISCOVER"
	PhaseAudit         Phase = "AUDIT"
	PhaseGenerateTests Phase = "GENERATE_TESTS"
	PhaseFix           Phase = "FIX"
	PhaseValidate      Phase = "VALIDATE"
	PhaseDecide        Phase = "DECIDE"
	PhaseDone          Phase = "DONE"
	PhaseFailed        Phase = "FAILED"
)

// SwarmState is the mutable state of one run. It is owned by the
// orchestrator and passed explicitly to each phase.
type SwarmState struct {
	RunID            string            `json:"run_id"`
	TargetDir        string            `json:"target_dir"`
	Phase            Phase             `json:"phase"`
	CurrentIteration int               `json:"current_iteration"`
	MaxIterations    int               `json:"max_iterations"`
	SuccessThreshold float64           `json:"success_threshold"`
	BugsFixed        int               `json:"bugs_fixed"`
	FilesToProcess   []string          `json:"files_to_process"`
	FilesProcessed   []string          `json:"files_processed"`
	Plan             *Plan             `json:"plan,omitempty"`
	LastReport       *ValidationReport `json:"last_report,omitempty"`
	Directives       []Directive       `json:"directives,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// MarkProcessed records file as processed, keeping the list sorted and unique.
func (s *SwarmState) MarkProcessed(file string) {
	for _, f := range s.FilesProcessed {
		if f == file {
			return
		}
	}
	s.FilesProcessed = append(s.FilesProcessed, file)
	sort.Strings(s.FilesProcessed)
}

// Report is the final outcome of a run.
type Report struct {
	RunID          string        `json:"run_id"`
	Success        bool          `json:"success"`
	Reason         string        `json:"reason"`
	Interrupted    bool          `json:"interrupted,omitempty"`
	IterationsUsed int           `json:"iterations_used"`
	MaxIterations  int           `json:"max_iterations"`
	FilesProcessed int           `json:"files_processed"`
	BugsFixed      int           `json:"bugs_fixed"`
	TestsPassed    int           `json:"tests_passed"`
	TestsTotal     int           `json:"total_tests"`
	SuccessRate    float64       `json:"success_rate"`
	Threshold      float64       `json:"threshold"`
	Elapsed        time.Duration `json:"elapsed"`
	TargetDir      string        `json:"output_directory"`
}
