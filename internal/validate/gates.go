// Package validate implements the gates a candidate must pass before it is
// written, and the per-iteration validation of the whole tree.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lucasnoah/refactorswarm/internal/pipeline"
	"github.com/lucasnoah/refactorswarm/internal/pysyntax"
)

// Completeness defaults.
const (
	DefaultMinLength = 50
	DefaultMinRatio  = 0.7
)

// DanglingRule flags a final source line that cannot end a complete module.
type DanglingRule struct {
	Name    string
	Pattern *regexp.Regexp
	// Except lists endings that match Pattern but are complete.
	Except *regexp.Regexp
}

// DanglingTokens is the ending-token blacklist of the completeness gate,
// applied to the last non-blank line.
var DanglingTokens = []DanglingRule{
	{Name: "trailing assignment", Pattern: regexp.MustCompile(`=$`)},
	{
		Name:    "trailing operator",
		Pattern: regexp.MustCompile(`[-+*/%&|^@<>~]$`),
		Except:  regexp.MustCompile(`\bimport\s+\*$`),
	},
	{Name: "trailing continuation", Pattern: regexp.MustCompile(`[,\\]$`)},
	{Name: "unclosed bracket", Pattern: regexp.MustCompile(`[(\[{]$`)},
	{Name: "block opener", Pattern: regexp.MustCompile(`:$`)},
	{
		Name:    "trailing attribute access",
		Pattern: regexp.MustCompile(`\.$`),
		Except:  regexp.MustCompile(`(?:\.\.\.|(?:^|[^\w.])\d+\.)$`),
	},
	{
		Name:    "trailing keyword",
		Pattern: regexp.MustCompile(`\b(?:def|class|if|elif|while|for|with|import|from|and|or|not|in|is|lambda|as|assert|del|global|nonlocal|async|await|except)$`),
	},
}

// bareMarker matches comment lines with no text, like "#" or "#=====".
var bareMarker = regexp.MustCompile(`^#[#=\-\s]*$`)

// DanglingEnding returns the name of the rule the last non-blank line of src
// breaks, or "" when the ending is complete. Comments are ignored except
// for a whole-line bare marker comment, which is what truncated replies
// end with.
func DanglingEnding(src string) string {
	line := lastCodeLine(src)
	if line == "" {
		return ""
	}
	code, comment := splitComment(line)
	line = strings.TrimSpace(code)
	if line == "" {
		if bareMarker.MatchString(comment) {
			return "comment marker"
		}
		return ""
	}
	for _, r := range DanglingTokens {
		if !r.Pattern.MatchString(line) {
			continue
		}
		if r.Except != nil && r.Except.MatchString(line) {
			continue
		}
		return r.Name
	}
	return ""
}

// splitComment separates a trailing comment from a line, ignoring '#'
// inside string literals.
func splitComment(line string) (code, comment string) {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '#':
			return line[:i], line[i:]
		}
	}
	return line, ""
}

func lastCodeLine(src string) string {
	lines := strings.Split(src, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			return s
		}
	}
	return ""
}

// CandidateResult holds the gate outcomes for one candidate.
type CandidateResult struct {
	File   string                `json:"file"`
	Passed bool                  `json:"passed"`
	Gates  []pipeline.GateResult `json:"gates"`
}

// Failed returns the first failing gate, or nil.
func (r *CandidateResult) Failed() *pipeline.GateResult {
	for i := range r.Gates {
		if !r.Gates[i].Passed {
			return &r.Gates[i]
		}
	}
	return nil
}

// Checker runs the per-file gates: syntax, signature preservation and
// completeness.
type Checker struct {
	MinLength int
	MinRatio  float64
}

// NewChecker creates a Checker. Non-positive values use the defaults.
func NewChecker(minLength int, minRatio float64) *Checker {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if minRatio <= 0 {
		minRatio = DefaultMinRatio
	}
	return &Checker{MinLength: minLength, MinRatio: minRatio}
}

// CheckCandidate evaluates the three per-file gates of candidate against
// original. Every gate is evaluated so the rejection carries all
// violations; the first failing gate in order is the rejection reason.
func (c *Checker) CheckCandidate(ctx context.Context, file, original, candidate string) (*CandidateResult, error) {
	orig, err := pysyntax.Parse(ctx, []byte(original))
	if err != nil {
		return nil, fmt.Errorf("parse original %s: %w", file, err)
	}
	cand, err := pysyntax.Parse(ctx, []byte(candidate))
	if err != nil {
		return nil, fmt.Errorf("parse candidate %s: %w", file, err)
	}

	res := &CandidateResult{
		File: file,
		Gates: []pipeline.GateResult{
			SyntaxGate(cand),
			SignatureGate(orig, cand),
			c.CompletenessGate(original, candidate, orig, cand),
		},
	}
	res.Passed = res.Failed() == nil
	return res, nil
}

// SyntaxGate fails when the candidate does not parse.
func SyntaxGate(cand *pysyntax.Module) pipeline.GateResult {
	g := pipeline.GateResult{Gate: pipeline.GateSyntax, Passed: cand.Valid()}
	for _, e := range cand.Errors {
		g.Violations = append(g.Violations, fmt.Sprintf("line %d: %s", e.Line, e.Message))
	}
	return g
}

// SignatureGate fails when a public top-level function of the original is
// missing from the candidate or its parameter list changed.
func SignatureGate(orig, cand *pysyntax.Module) pipeline.GateResult {
	g := pipeline.GateResult{Gate: pipeline.GateSignature}
	g.Violations = SignatureViolations(orig.PublicSignatures(), cand.PublicSignatures())
	g.Passed = len(g.Violations) == 0
	return g
}

// SignatureViolations compares ordered public signatures.
func SignatureViolations(want, got []pysyntax.Signature) []string {
	byName := make(map[string]pysyntax.Signature, len(got))
	for _, s := range got {
		if _, dup := byName[s.Name]; !dup {
			byName[s.Name] = s
		}
	}
	var out []string
	for _, w := range want {
		g, ok := byName[w.Name]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("missing function %s", w.String()))
		case !w.Equal(g):
			out = append(out, fmt.Sprintf("signature changed: %s became %s", w.String(), g.String()))
		}
	}
	return out
}

// CompletenessGate rejects candidates that look truncated.
func (c *Checker) CompletenessGate(original, candidate string, orig, cand *pysyntax.Module) pipeline.GateResult {
	g := pipeline.GateResult{Gate: pipeline.GateCompleteness}

	if rule := DanglingEnding(candidate); rule != "" {
		g.Violations = append(g.Violations, fmt.Sprintf("ends with a %s: %q", rule, lastCodeLine(candidate)))
	}

	ol, cl := len(strings.TrimSpace(original)), len(strings.TrimSpace(candidate))
	if ol >= c.MinLength && cl < c.MinLength {
		g.Violations = append(g.Violations, fmt.Sprintf("length %d below floor %d", cl, c.MinLength))
	}
	if float64(cl) < c.MinRatio*float64(ol) {
		g.Violations = append(g.Violations, fmt.Sprintf("length %d below %.0f%% of original %d", cl, c.MinRatio*100, ol))
	}

	if n, m := len(cand.Functions), len(orig.Functions); n < m {
		g.Violations = append(g.Violations, fmt.Sprintf("%d top-level functions, original has %d", n, m))
	}
	if !cand.Valid() {
		g.Violations = append(g.Violations, "does not parse as a whole module")
	}

	g.Passed = len(g.Violations) == 0
	return g
}
