package context

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lucasnoah/refactorswarm/internal/classify"
	"github.com/lucasnoah/refactorswarm/internal/pipeline"
	"github.com/lucasnoah/refactorswarm/internal/prompt"
	"github.com/lucasnoah/refactorswarm/internal/pysyntax"
)

// MaxFindings caps the findings sent with one fix request.
const MaxFindings = 10

// FidelityMode controls how much context a fix request carries. It narrows
// as the attempts for a file run out.
type FidelityMode string

const (
	// ModeFull sends every finding, directive and signature.
	ModeFull FidelityMode = "full"
	// ModeFocused drops LOW findings and explains the last rejection.
	ModeFocused FidelityMode = "focused"
	// ModeMinimal keeps only HIGH findings and asks for the smallest change.
	ModeMinimal FidelityMode = "minimal"
)

// ResolveMode picks the fidelity mode for attempt (0-based) out of
// maxAttempts.
func ResolveMode(attempt, maxAttempts int) FidelityMode {
	switch {
	case attempt == 0:
		return ModeFull
	case attempt >= maxAttempts-1:
		return ModeMinimal
	default:
		return ModeFocused
	}
}

// Builder assembles the context of one fix request.
type Builder struct {
	templateDir string
}

// NewBuilder creates a Builder. templateDir may hold a fix-context.md
// override.
func NewBuilder(templateDir string) *Builder {
	return &Builder{templateDir: templateDir}
}

// BuildOpts describes the file being fixed and what went wrong so far.
type BuildOpts struct {
	File        string
	Findings    []pipeline.Finding
	Directives  []pipeline.Directive
	Signatures  []pysyntax.Signature
	Attempt     int
	MaxAttempts int
	// LastRejection is the failed gate of the previous attempt, if any.
	LastRejection *pipeline.GateResult
}

// BuildResult holds the assembled context.
type BuildResult struct {
	Mode     FidelityMode
	Findings []pipeline.Finding
	Vars     prompt.Vars
	Context  string
}

// Build selects findings for the attempt and renders the fix context.
func (b *Builder) Build(opts BuildOpts) (*BuildResult, error) {
	mode := ResolveMode(opts.Attempt, opts.MaxAttempts)

	vars := prompt.Vars{
		"file":    opts.File,
		"attempt": strconv.Itoa(opts.Attempt + 1),
	}

	if len(opts.Directives) > 0 {
		vars["directives"] = strings.TrimRight(classify.Format(opts.Directives), "\n")
	}
	if len(opts.Signatures) > 0 {
		lines := make([]string, len(opts.Signatures))
		for i, s := range opts.Signatures {
			lines[i] = "- def " + s.String()
		}
		vars["signatures"] = strings.Join(lines, "\n")
	}
	if mode != ModeFull && opts.LastRejection != nil && !opts.LastRejection.Passed {
		vars["rejected_gate"] = opts.LastRejection.Gate
		vars["rejection"] = formatViolations(opts.LastRejection.Violations)
		vars["guidance"] = gateGuidance(opts.LastRejection.Gate)
	}
	if mode == ModeMinimal {
		vars["final_attempt"] = "yes"
	}

	tmpl, err := prompt.LoadTemplate(prompt.FixContextTemplate, b.templateDir)
	if err != nil {
		return nil, fmt.Errorf("load context template: %w", err)
	}
	rendered, err := prompt.Render(tmpl, vars)
	if err != nil {
		return nil, fmt.Errorf("render context: %w", err)
	}

	return &BuildResult{
		Mode:     mode,
		Findings: SelectFindings(opts.Findings, mode),
		Vars:     vars,
		Context:  collapseBlankLines(rendered),
	}, nil
}

// SelectFindings orders findings by priority then line and trims them for
// mode. ModeMinimal keeps HIGH findings, or the top three when there are none.
func SelectFindings(findings []pipeline.Finding, mode FidelityMode) []pipeline.Finding {
	sorted := append([]pipeline.Finding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := priorityRank(sorted[i].Priority), priorityRank(sorted[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return sorted[i].Line < sorted[j].Line
	})

	var out []pipeline.Finding
	switch mode {
	case ModeFocused:
		for _, f := range sorted {
			if f.Priority != pipeline.PriorityLow {
				out = append(out, f)
			}
		}
	case ModeMinimal:
		for _, f := range sorted {
			if f.Priority == pipeline.PriorityHigh {
				out = append(out, f)
			}
		}
		if len(out) == 0 && len(sorted) > 0 {
			out = sorted[:min(3, len(sorted))]
		}
	default:
		out = sorted
	}
	if len(out) == 0 {
		out = sorted
	}
	if len(out) > MaxFindings {
		out = out[:MaxFindings]
	}
	return out
}

func priorityRank(p pipeline.Priority) int {
	switch p {
	case pipeline.PriorityHigh:
		return 0
	case pipeline.PriorityMedium:
		return 1
	default:
		return 2
	}
}

func gateGuidance(gate string) string {
	switch gate {
	case pipeline.GateSyntax:
		return "Return complete, syntactically valid Python."
	case pipeline.GateSignature:
		return "Restore every public signature listed above exactly as written."
	case pipeline.GateCompleteness:
		return "The module came back truncated. Return the whole module, not a fragment."
	default:
		return ""
	}
}

func formatViolations(vs []string) string {
	if len(vs) == 0 {
		return "- (no details)"
	}
	lines := make([]string, len(vs))
	for i, v := range vs {
		lines[i] = "- " + v
	}
	return strings.Join(lines, "\n")
}

func collapseBlankLines(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	var out []string
	blank := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
