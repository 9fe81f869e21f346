// Package oracle asks a language model for audits, fixes and test suites,
// and turns its free-form replies into typed results.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lucasnoah/refactorswarm/internal/logger"
	"github.com/lucasnoah/refactorswarm/internal/metrics"
	"github.com/lucasnoah/refactorswarm/internal/pipeline"
	"github.com/lucasnoah/refactorswarm/internal/prompt"
	"github.com/lucasnoah/refactorswarm/internal/pysyntax"
)

// Oracle is the remediation collaborator.
type Oracle interface {
	Audit(ctx context.Context, files []pipeline.SourceFile) (*pipeline.Plan, error)
	Fix(ctx context.Context, source string, findings []pipeline.Finding, fixContext string) (string, error)
	GenerateTests(ctx context.Context, source string, module string) (string, error)
}

const (
	// DefaultMaxSourceChars bounds the code sent with one audit request.
	DefaultMaxSourceChars = 12000
	// auditLintIssues is how many lint issues accompany an audit request.
	auditLintIssues = 5
)

// Options tune an LLMOracle. Zero values disable the corresponding feature.
type Options struct {
	TemplateDir       string
	RequestsPerMinute int
	ParseRetries      int
	MaxSourceChars    int
	Timeout           time.Duration
	RunLog            *logger.RunLog
	Metrics           *metrics.Metrics
	Log               logger.Logger
}

// LLMOracle implements Oracle over a Generator.
type LLMOracle struct {
	gen     Generator
	opts    Options
	limiter *rate.Limiter
	log     logger.Logger
}

// New creates an LLMOracle.
func New(gen Generator, opts Options) *LLMOracle {
	o := &LLMOracle{gen: gen, opts: opts, log: opts.Log}
	if o.log == nil {
		o.log = logger.Nop()
	}
	if opts.RequestsPerMinute > 0 {
		o.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	if o.opts.MaxSourceChars <= 0 {
		o.opts.MaxSourceChars = DefaultMaxSourceChars
	}
	if o.opts.ParseRetries < 0 {
		o.opts.ParseRetries = 0
	}
	return o
}

// call sends one prompt, recording it in the run log and metrics.
func (o *LLMOracle) call(ctx context.Context, agent, op, input, text string) (string, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return "", pipeline.Collaborator("oracle", op, fmt.Errorf("rate limiter: %w", err))
		}
	}
	callCtx := ctx
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	o.log.Debugf("oracle %s: %s (%d chars)", op, input, len(text))
	reply, err := o.gen.Generate(callCtx, text)
	o.opts.Metrics.OracleCall(op, err)

	entry := logger.Entry{
		Agent:        agent,
		Model:        o.gen.Model(),
		Action:       op,
		InputSummary: input,
		Status:       logger.StatusSuccess,
	}
	if err != nil {
		entry.Status = logger.StatusFailure
		entry.OutputSummary = err.Error()
	} else {
		entry.OutputSummary = logger.Truncate(reply, 200)
	}
	if lerr := o.opts.RunLog.Record(entry); lerr != nil {
		o.log.Warnf("run log: %v", lerr)
	}

	if err != nil {
		return "", pipeline.Collaborator("oracle", op, err)
	}
	return reply, nil
}

// auditReply is the JSON shape the audit template asks for.
type auditReply struct {
	File   string       `json:"file"`
	Issues []auditIssue `json:"issues"`
}

type auditIssue struct {
	Type        string  `json:"type"`
	Line        flexInt `json:"line"`
	Description string  `json:"description"`
	Priority    string  `json:"priority"`
	Suggestion  string  `json:"suggestion"`
}

// flexInt accepts 12, "12", "line 12" and null.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	digits := strings.TrimLeftFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	end := strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' })
	if end >= 0 {
		digits = digits[:end]
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

// ParseAudit decodes an audit reply into findings for file. It accepts the
// documented object or a bare issues array.
func ParseAudit(reply, file string) ([]pipeline.Finding, error) {
	raw, ok := ExtractJSON(reply)
	if !ok {
		return nil, errors.New("no JSON object in reply")
	}
	var issues []auditIssue
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &issues); err != nil {
			return nil, fmt.Errorf("decode issues array: %w", err)
		}
	} else {
		var r auditReply
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode audit object: %w", err)
		}
		issues = r.Issues
	}

	findings := make([]pipeline.Finding, 0, len(issues))
	for _, is := range issues {
		desc := strings.TrimSpace(is.Description)
		if desc == "" {
			continue
		}
		if is.Type != "" {
			desc = fmt.Sprintf("[%s] %s", strings.ToLower(is.Type), desc)
		}
		findings = append(findings, pipeline.Finding{
			File:        file,
			Line:        int(is.Line),
			Description: desc,
			Priority:    pipeline.NormalizePriority(is.Priority),
			Suggestion:  strings.TrimSpace(is.Suggestion),
		})
	}
	return findings, nil
}

// fallbackFinding is used when an audit reply stays unparseable.
func fallbackFinding(f pipeline.SourceFile) pipeline.Finding {
	return pipeline.Finding{
		File:        f.Path,
		Line:        0,
		Description: fmt.Sprintf("static analysis score %.1f/10; review the module for bugs and style issues", f.LintScore),
		Priority:    pipeline.PriorityMedium,
		Suggestion:  "fix the reported lint issues and any obvious defects",
	}
}

// Audit asks for findings on every file. Files with no findings are left
// out of the plan.
func (o *LLMOracle) Audit(ctx context.Context, files []pipeline.SourceFile) (*pipeline.Plan, error) {
	tmpl, err := prompt.LoadTemplate(prompt.AuditTemplate, o.opts.TemplateDir)
	if err != nil {
		return nil, err
	}

	plan := &pipeline.Plan{}
	for _, f := range files {
		code, truncated := f.Content, ""
		if len(code) > o.opts.MaxSourceChars {
			code, truncated = code[:o.opts.MaxSourceChars], "yes"
		}
		issues := f.LintIssues
		if len(issues) > auditLintIssues {
			issues = issues[:auditLintIssues]
		}
		vars := prompt.Vars{
			"file":        f.Path,
			"code":        code,
			"truncated":   truncated,
			"lint_score":  strconv.FormatFloat(f.LintScore, 'f', 1, 64),
			"lint_issues": bulletList(issues),
		}

		var findings []pipeline.Finding
		var parseErr error
		for try := 0; try <= o.opts.ParseRetries; try++ {
			if parseErr != nil {
				vars["previous_error"] = parseErr.Error()
			}
			text, err := prompt.Render(tmpl, vars)
			if err != nil {
				return nil, err
			}
			reply, err := o.call(ctx, "auditor", "audit", f.Path, text)
			if err != nil {
				return nil, err
			}
			findings, parseErr = ParseAudit(reply, f.Path)
			if parseErr == nil {
				break
			}
			o.log.Warnf("audit reply for %s unparseable: %v", f.Path, parseErr)
		}
		if parseErr != nil {
			findings = []pipeline.Finding{fallbackFinding(f)}
		}
		if len(findings) > 0 {
			plan.Add(f.Path, findings...)
		}
	}
	return plan, nil
}

// Fix asks for a corrected version of source. The reply is reduced to bare
// code; gates decide whether it is usable.
func (o *LLMOracle) Fix(ctx context.Context, source string, findings []pipeline.Finding, fixContext string) (string, error) {
	tmpl, err := prompt.LoadTemplate(prompt.FixTemplate, o.opts.TemplateDir)
	if err != nil {
		return "", err
	}
	text, err := prompt.Render(tmpl, prompt.Vars{
		"findings": formatFindings(findings),
		"context":  fixContext,
		"source":   source,
	})
	if err != nil {
		return "", err
	}
	file := ""
	if len(findings) > 0 {
		file = findings[0].File
	}
	reply, err := o.call(ctx, "fixer", "fix", fmt.Sprintf("%s: %d findings", file, len(findings)), text)
	if err != nil {
		return "", err
	}
	return ExtractCode(reply), nil
}

// GenerateTests asks for a pytest module exercising module. A reply that
// does not parse is re-requested up to ParseRetries times; the last reply
// is returned either way.
func (o *LLMOracle) GenerateTests(ctx context.Context, source string, module string) (string, error) {
	tmpl, err := prompt.LoadTemplate(prompt.GenerateTestsTemplate, o.opts.TemplateDir)
	if err != nil {
		return "", err
	}
	vars := prompt.Vars{"module": module, "source": source}

	var code string
	for try := 0; try <= o.opts.ParseRetries; try++ {
		text, err := prompt.Render(tmpl, vars)
		if err != nil {
			return "", err
		}
		reply, err := o.call(ctx, "tester", "generate_tests", module, text)
		if err != nil {
			return "", err
		}
		code = ExtractCode(reply)
		errs, perr := pysyntax.CheckSyntax(ctx, []byte(code))
		if perr != nil {
			return "", perr
		}
		if len(errs) == 0 && strings.TrimSpace(code) != "" {
			return code, nil
		}
		msg := "empty reply"
		if len(errs) > 0 {
			msg = fmt.Sprintf("line %d: %s", errs[0].Line, errs[0].Message)
		}
		o.log.Warnf("generated tests for %s invalid: %s", module, msg)
		vars["previous_error"] = msg
	}
	return code, nil
}

func formatFindings(findings []pipeline.Finding) string {
	if len(findings) == 0 {
		return "- No specific findings; fix any bugs you can see without changing behaviour."
	}
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "- [%s] line %d: %s", f.Priority, f.Line, f.Description)
		if f.Suggestion != "" {
			fmt.Fprintf(&b, " (suggestion: %s)", f.Suggestion)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return "- " + strings.Join(items, "\n- ")
}

// ModuleName returns the import name of a Python file.
func ModuleName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
