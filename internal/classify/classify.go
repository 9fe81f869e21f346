// Package classify turns failing test records into targeted directives for
// the next fix attempt.
package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lucasnoah/refactorswarm/internal/pipeline"
)

// DefaultMaxDirectives caps the directives produced per iteration.
const DefaultMaxDirectives = 10

// ExpectedExceptionRules extract the exception a test expected.
var ExpectedExceptionRules = []*regexp.Regexp{
	regexp.MustCompile(`DID NOT RAISE <class '(?:[\w.]+\.)?(\w+)'>`),
	regexp.MustCompile(`pytest\.raises\(\s*(?:[\w.]+\.)?(\w+)`),
	regexp.MustCompile(`assertRaises\(\s*(?:[\w.]+\.)?(\w+)`),
	regexp.MustCompile(`[Ee]xpected (?:exception )?(\w+(?:Error|Exception))\b`),
}

// didNotRaise marks a test whose expected exception never happened.
var didNotRaise = regexp.MustCompile(`DID NOT RAISE`)

// ObservedExceptionRules extract the exception that was actually raised.
var ObservedExceptionRules = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^E\s+(?:[\w.]+\.)?(\w+(?:Error|Exception|Exit|Interrupt|Warning))\b`),
	regexp.MustCompile(`(?m)^(?:[\w.]+\.)?(\w+(?:Error|Exception)): `),
	regexp.MustCompile(`\braise (?:[\w.]+\.)?(\w+(?:Error|Exception))\b`),
}

// AssertionMarkers identify plain assertion failures.
var AssertionMarkers = []string{"AssertionError", "assert "}

// ImportMarkers identify import failures.
var ImportMarkers = []string{"ImportError", "ModuleNotFoundError", "No module named", "cannot import name"}

// Classifier maps failure records onto directives.
type Classifier struct {
	maxDirectives int
	known         []string
	source        SourceFunc
}

// New creates a Classifier. known lists the function names of the code under
// repair; when a test name embeds one of them the longest match is targeted.
func New(maxDirectives int, known []string) *Classifier {
	if maxDirectives <= 0 {
		maxDirectives = DefaultMaxDirectives
	}
	sorted := append([]string(nil), known...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	return &Classifier{maxDirectives: maxDirectives, known: sorted}
}

// Classify produces one directive per distinct failure, in first-occurrence
// order, capped at the configured maximum.
func (c *Classifier) Classify(records []pipeline.FailureRecord) []pipeline.Directive {
	var out []pipeline.Directive
	seen := make(map[pipeline.Directive]bool)
	for _, r := range records {
		d := c.classifyOne(r)
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
		if len(out) >= c.maxDirectives {
			break
		}
	}
	return out
}

func (c *Classifier) classifyOne(r pipeline.FailureRecord) pipeline.Directive {
	target := c.TargetFunction(r.TestID)
	text := r.Message + "\n" + r.Diagnostic

	expected := firstMatch(ExpectedExceptionRules, text)
	if expected != "" {
		observed := observedException(text, expected)
		if observed != "" && observed != expected && !didNotRaise.MatchString(text) {
			return pipeline.Directive{
				Category:       pipeline.CategoryWrongExceptionType,
				TargetFunction: target,
				ActionText:     fmt.Sprintf("%s raises %s but the test expects %s; raise %s instead", target, observed, expected, expected),
			}
		}
		if observed == "" || didNotRaise.MatchString(text) {
			return pipeline.Directive{
				Category:       pipeline.CategoryMissingException,
				TargetFunction: target,
				ActionText:     fmt.Sprintf("%s must raise %s for the input used in %s", target, expected, r.TestID),
			}
		}
	} else if c.source != nil && !containsAny(text, ImportMarkers) {
		// An expectation read from the test source only ever names a
		// mismatch; a missing exception needs "DID NOT RAISE".
		if expected = firstMatch(ExpectedExceptionRules, c.source(r.TestID)); expected != "" {
			if observed := observedException(text, expected); observed != "" && observed != expected {
				return pipeline.Directive{
					Category:       pipeline.CategoryWrongExceptionType,
					TargetFunction: target,
					ActionText:     fmt.Sprintf("%s raises %s but the test expects %s; raise %s instead", target, observed, expected, expected),
				}
			}
		}
	}

	if containsAny(errorLines(r), AssertionMarkers) {
		return pipeline.Directive{
			Category:       pipeline.CategoryAssertionFailure,
			TargetFunction: target,
			ActionText:     fmt.Sprintf("%s returns a wrong value: %s", target, firstLine(r.Message)),
		}
	}

	if containsAny(text, ImportMarkers) {
		return pipeline.Directive{
			Category:       pipeline.CategoryImportError,
			TargetFunction: target,
			ActionText:     fmt.Sprintf("make %s importable: fix the module imports and keep its public name", target),
		}
	}

	return pipeline.Directive{
		Category:       pipeline.CategoryUnknown,
		TargetFunction: target,
		ActionText:     fmt.Sprintf("review %s: %s failed", target, r.TestID),
	}
}

// TargetFunction derives the function under test from a test identifier such
// as "tests/test_calc.py::TestCalc::test_divide_zero[2-0]".
func (c *Classifier) TargetFunction(testID string) string {
	name := testID
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	if i := strings.Index(name, "["); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimPrefix(name, "test_")
	name = strings.TrimPrefix(name, "test")

	for _, k := range c.known {
		if name == k || strings.HasPrefix(name, k+"_") {
			return k
		}
	}
	if name == "" {
		return testID
	}
	return name
}

// observedException returns the first raised exception that is not merely
// an echo of the expected one inside a raises() clause.
func observedException(text, expected string) string {
	var first string
	for _, re := range ObservedExceptionRules {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := m[1]
			if name == "AssertionError" || name == "Failed" {
				continue
			}
			if name != expected {
				return name
			}
			if first == "" {
				first = name
			}
		}
	}
	return first
}

// errorLines keeps the failure message and the "E " lines of a pytest
// traceback. Echoed test source is left out so an assert statement in the
// test body is not mistaken for an assertion failure.
func errorLines(r pipeline.FailureRecord) string {
	var b strings.Builder
	b.WriteString(r.Message)
	for _, line := range strings.Split(r.Diagnostic, "\n") {
		if strings.HasPrefix(line, "E ") {
			b.WriteByte('\n')
			b.WriteString(line)
		}
	}
	return b.String()
}

func firstMatch(rules []*regexp.Regexp, text string) string {
	for _, re := range rules {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// Format renders directives as a numbered list for prompts.
func Format(ds []pipeline.Directive) string {
	if len(ds) == 0 {
		return ""
	}
	var b strings.Builder
	for i, d := range ds {
		fmt.Fprintf(&b, "%d. [%s] %s: %s\n", i+1, d.Category, d.TargetFunction, d.ActionText)
	}
	return b.String()
}

// ForFunctions keeps the directives whose target is one of names.
func ForFunctions(ds []pipeline.Directive, names []string) []pipeline.Directive {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	var out []pipeline.Directive
	for _, d := range ds {
		if set[d.TargetFunction] {
			out = append(out, d)
		}
	}
	return out
}
