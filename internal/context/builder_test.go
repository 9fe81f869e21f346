package context

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasnoah/refactorswarm/internal/pipeline"
	"github.com/lucasnoah/refactorswarm/internal/prompt"
	"github.com/lucasnoah/refactorswarm/internal/pysyntax"
)

func testFindings() []pipeline.Finding {
	return []pipeline.Finding{
		{File: "calc.py", Line: 20, Description: "missing docstring", Priority: pipeline.PriorityLow},
		{File: "calc.py", Line: 9, Description: "division by zero not handled", Priority: pipeline.PriorityHigh, Suggestion: "raise ValueError"},
		{File: "calc.py", Line: 3, Description: "unused import", Priority: pipeline.PriorityMedium},
		{File: "calc.py", Line: 2, Description: "add subtracts", Priority: pipeline.PriorityHigh},
	}
}

func TestResolveMode(t *testing.T) {
	cases := []struct {
		attempt, max int
		want         FidelityMode
	}{
		{0, 3, ModeFull},
		{1, 3, ModeFocused},
		{2, 3, ModeMinimal},
		{0, 1, ModeFull},
		{1, 2, ModeMinimal},
	}
	for _, c := range cases {
		if got := ResolveMode(c.attempt, c.max); got != c.want {
			t.Errorf("ResolveMode(%d, %d) = %q, want %q", c.attempt, c.max, got, c.want)
		}
	}
}

func TestBuild_FirstAttempt(t *testing.T) {
	b := NewBuilder("")
	result, err := b.Build(BuildOpts{
		File:        "calc.py",
		Findings:    testFindings(),
		Directives:  []pipeline.Directive{{Category: pipeline.CategoryMissingException, TargetFunction: "divide", ActionText: "divide must raise ValueError"}},
		Signatures:  []pysyntax.Signature{{Name: "add", Params: []string{"a", "b"}}, {Name: "divide", Params: []string{"a", "b"}}},
		Attempt:     0,
		MaxAttempts: 3,
		// Ignored on the first attempt.
		LastRejection: &pipeline.GateResult{Gate: pipeline.GateSyntax, Violations: []string{"line 2"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Mode != ModeFull {
		t.Errorf("expected full mode, got %q", result.Mode)
	}
	if len(result.Findings) != 4 {
		t.Errorf("expected all findings, got %d", len(result.Findings))
	}
	if result.Findings[0].Line != 2 || result.Findings[1].Line != 9 {
		t.Errorf("findings not ordered by priority then line: %+v", result.Findings)
	}
	if !strings.Contains(result.Context, "1. [MISSING_EXCEPTION] divide: divide must raise ValueError") {
		t.Errorf("directives missing from context:\n%s", result.Context)
	}
	if !strings.Contains(result.Context, "- def divide(a, b)") {
		t.Errorf("signatures missing from context:\n%s", result.Context)
	}
	if strings.Contains(result.Context, "rejected") || strings.Contains(result.Context, "Final attempt") {
		t.Errorf("unexpected escalation in first attempt:\n%s", result.Context)
	}
}

func TestBuild_FocusedAfterRejection(t *testing.T) {
	b := NewBuilder("")
	result, err := b.Build(BuildOpts{
		File:        "calc.py",
		Findings:    testFindings(),
		Attempt:     1,
		MaxAttempts: 3,
		LastRejection: &pipeline.GateResult{
			Gate:       pipeline.GateSignature,
			Violations: []string{"divide(a, b) became divide(x, y)"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Mode != ModeFocused {
		t.Errorf("expected focused mode, got %q", result.Mode)
	}
	for _, f := range result.Findings {
		if f.Priority == pipeline.PriorityLow {
			t.Errorf("focused mode kept a LOW finding: %+v", f)
		}
	}
	if !strings.Contains(result.Context, "Previous attempt rejected (signature gate)") {
		t.Errorf("rejection header missing:\n%s", result.Context)
	}
	if !strings.Contains(result.Context, "- divide(a, b) became divide(x, y)") {
		t.Errorf("violation missing:\n%s", result.Context)
	}
	if !strings.Contains(result.Context, "Restore every public signature") {
		t.Errorf("gate guidance missing:\n%s", result.Context)
	}
}

func TestBuild_FinalAttempt(t *testing.T) {
	b := NewBuilder("")
	result, err := b.Build(BuildOpts{
		File:          "calc.py",
		Findings:      testFindings(),
		Attempt:       2,
		MaxAttempts:   3,
		LastRejection: &pipeline.GateResult{Gate: pipeline.GateCompleteness, Violations: []string{"ends with dangling '+'"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Mode != ModeMinimal {
		t.Errorf("expected minimal mode, got %q", result.Mode)
	}
	if len(result.Findings) != 2 {
		t.Errorf("expected only HIGH findings, got %+v", result.Findings)
	}
	if !strings.Contains(result.Context, "Final attempt") {
		t.Errorf("final attempt notice missing:\n%s", result.Context)
	}
}

func TestBuild_EmptyContext(t *testing.T) {
	result, err := NewBuilder("").Build(BuildOpts{File: "calc.py", MaxAttempts: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Context != "" {
		t.Errorf("expected empty context, got %q", result.Context)
	}
}

func TestBuild_TemplateOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, prompt.FixContextTemplate), []byte("fixing {{file}} try {{attempt}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	result, err := NewBuilder(dir).Build(BuildOpts{File: "geo.py", Attempt: 1, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Context != "fixing geo.py try 2" {
		t.Errorf("override not used: %q", result.Context)
	}
}

func TestSelectFindings_MinimalWithoutHigh(t *testing.T) {
	findings := []pipeline.Finding{
		{Line: 1, Priority: pipeline.PriorityLow},
		{Line: 2, Priority: pipeline.PriorityMedium},
		{Line: 3, Priority: pipeline.PriorityLow},
		{Line: 4, Priority: pipeline.PriorityMedium},
	}
	got := SelectFindings(findings, ModeMinimal)
	if len(got) != 3 || got[0].Line != 2 || got[1].Line != 4 {
		t.Errorf("unexpected selection %+v", got)
	}
}

func TestSelectFindings_Cap(t *testing.T) {
	var findings []pipeline.Finding
	for i := 0; i < 25; i++ {
		findings = append(findings, pipeline.Finding{Line: i, Priority: pipeline.PriorityMedium})
	}
	if got := SelectFindings(findings, ModeFull); len(got) != MaxFindings {
		t.Errorf("expected %d findings, got %d", MaxFindings, len(got))
	}
}
