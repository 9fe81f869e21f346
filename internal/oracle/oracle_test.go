package oracle

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/refactorswarm/internal/logger"
	"github.com/lucasnoah/refactorswarm/internal/metrics"
	"github.com/lucasnoah/refactorswarm/internal/pipeline"
)

// fakeGenerator replays canned replies and records prompts.
type fakeGenerator struct {
	replies []string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r, nil
}

func (f *fakeGenerator) Provider() string { return "fake" }
func (f *fakeGenerator) Model() string    { return "fake-1" }

func TestAudit_ParsesFencedJSON(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Here you go:\n```json\n" +
		`{"file": "calc.py", "issues": [{"type": "bug", "line": "12", "description": "divides by zero", "priority": "high", "suggestion": "guard b"}]}` +
		"\n```\n"}}
	o := New(gen, Options{})

	plan, err := o.Audit(context.Background(), []pipeline.SourceFile{
		{Path: "calc.py", Content: "def divide(a, b):\n    return a / b\n", LintScore: 6.5, LintIssues: []string{"line 1: missing-docstring (C0116) doc"}},
	})
	require.NoError(t, err)

	fs := plan.Findings("calc.py")
	require.Len(t, fs, 1)
	assert.Equal(t, 12, fs[0].Line)
	assert.Equal(t, pipeline.PriorityHigh, fs[0].Priority)
	assert.Equal(t, "[bug] divides by zero", fs[0].Description)
	assert.Equal(t, "calc.py", fs[0].File)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Score: 6.5/10")
	assert.Contains(t, gen.prompts[0], "missing-docstring")
}

func TestAudit_CleanFileLeftOutOfPlan(t *testing.T) {
	gen := &fakeGenerator{replies: []string{`{"file": "ok.py", "issues": []}`}}
	plan, err := New(gen, Options{}).Audit(context.Background(), []pipeline.SourceFile{{Path: "ok.py", Content: "x = 1\n"}})
	require.NoError(t, err)
	assert.Empty(t, plan.Files)
}

func TestAudit_RetryThenFallback(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"I think the code is fine.", "still no json"}}
	o := New(gen, Options{ParseRetries: 1})

	plan, err := o.Audit(context.Background(), []pipeline.SourceFile{{Path: "a.py", Content: "x = 1\n", LintScore: 3}})
	require.NoError(t, err)
	require.Len(t, gen.prompts, 2)
	assert.Contains(t, gen.prompts[1], "could not be parsed")

	fs := plan.Findings("a.py")
	require.Len(t, fs, 1)
	assert.Equal(t, pipeline.PriorityMedium, fs[0].Priority)
	assert.Contains(t, fs[0].Description, "3.0/10")
}

func TestAudit_TruncatesLongSource(t *testing.T) {
	gen := &fakeGenerator{replies: []string{`[]`}}
	o := New(gen, Options{MaxSourceChars: 10})
	_, err := o.Audit(context.Background(), []pipeline.SourceFile{{Path: "big.py", Content: strings.Repeat("x = 1\n", 50)}})
	require.NoError(t, err)
	assert.Contains(t, gen.prompts[0], "truncated")
	assert.NotContains(t, gen.prompts[0], strings.Repeat("x = 1\n", 3))
}

func TestAudit_GeneratorErrorIsCollaboratorError(t *testing.T) {
	dir := t.TempDir()
	rl, err := logger.OpenRunLog(filepath.Join(dir, "run.jsonl"))
	require.NoError(t, err)
	defer rl.Close()

	m := metrics.New()
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	_, err = New(gen, Options{RunLog: rl, Metrics: m}).Audit(context.Background(), []pipeline.SourceFile{{Path: "a.py", Content: "x = 1\n"}})
	require.Error(t, err)
	assert.True(t, pipeline.IsCollaborator(err))
	assert.Contains(t, err.Error(), "quota exceeded")

	entries, err := logger.ReadEntries(rl.Path())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, logger.StatusFailure, entries[0].Status)
	assert.Equal(t, "auditor", entries[0].Agent)
	assert.Equal(t, "fake-1", entries[0].Model)
}

func TestFix_ExtractsCodeAndRendersFindings(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Fixed:\n```python\ndef add(a, b):\n    return a + b\n```\nDone."}}
	o := New(gen, Options{})

	got, err := o.Fix(context.Background(), "def add(a, b):\n    return a - b\n", []pipeline.Finding{
		{File: "calc.py", Line: 2, Description: "subtracts", Priority: pipeline.PriorityHigh, Suggestion: "add"},
	}, "## Final attempt")
	require.NoError(t, err)
	assert.Equal(t, "def add(a, b):\n    return a + b\n", got)

	p := gen.prompts[0]
	assert.Contains(t, p, "- [HIGH] line 2: subtracts (suggestion: add)")
	assert.Contains(t, p, "## Final attempt")
	assert.Contains(t, p, "return a - b")
}

func TestGenerateTests_RerequestsInvalidPython(t *testing.T) {
	valid := "from calc import *\n\ndef test_add():\n    assert add(1, 2) == 3\n"
	gen := &fakeGenerator{replies: []string{"def test_add(:\n", valid}}
	o := New(gen, Options{ParseRetries: 1})

	got, err := o.GenerateTests(context.Background(), "def add(a, b): return a + b\n", "calc")
	require.NoError(t, err)
	assert.Equal(t, valid, got)
	require.Len(t, gen.prompts, 2)
	assert.Contains(t, gen.prompts[0], "from calc import *")
	assert.Contains(t, gen.prompts[1], "not valid Python")
}

func TestGenerateTests_ReturnsLastReplyWhenStillInvalid(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"def broken(:\n"}}
	got, err := New(gen, Options{}).GenerateTests(context.Background(), "x = 1\n", "calc")
	require.NoError(t, err)
	assert.Equal(t, "def broken(:\n", got)
	assert.Len(t, gen.prompts, 1)
}

func TestParseAudit_BareArrayAndNoise(t *testing.T) {
	fs, err := ParseAudit(`Sure! [{"line": null, "description": "no docstring", "priority": "urgent"}, {"description": ""}] hope it helps`, "m.py")
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.Equal(t, 0, fs[0].Line)
	assert.Equal(t, pipeline.PriorityMedium, fs[0].Priority)

	_, err = ParseAudit("nothing here", "m.py")
	assert.Error(t, err)
}

func TestModuleName(t *testing.T) {
	assert.Equal(t, "calc", ModuleName("/src/pkg/calc.py"))
}

func TestNewGenerator_Credentials(t *testing.T) {
	env := map[string]string{"GEMINI_API_KEY": "k"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	_, err := NewGenerator(context.Background(), configFor("openai", "OPENAI_API_KEY"), lookup)
	assert.ErrorContains(t, err, "no API key")

	_, err = NewGenerator(context.Background(), configFor("bogus", ""), lookup)
	assert.ErrorContains(t, err, "unknown oracle provider")

	g, err := NewGenerator(context.Background(), configFor("ollama", ""), lookup)
	require.NoError(t, err)
	assert.Equal(t, "ollama", g.Provider())
	assert.Equal(t, "m", g.Model())
}
