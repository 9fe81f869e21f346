package validate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/refactorswarm/internal/checks"
	"github.com/lucasnoah/refactorswarm/internal/pipeline"
)

// fakeExecutor returns canned runs per directory and counts calls.
type fakeExecutor struct {
	runs  map[string]*checks.TestRun
	calls []string
}

func (f *fakeExecutor) Run(_ context.Context, dir string) (*checks.TestRun, error) {
	f.calls = append(f.calls, dir)
	if r, ok := f.runs[dir]; ok {
		return r, nil
	}
	return &checks.TestRun{Dir: dir}, nil
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func snapshotOf(t *testing.T, root string, rels ...string) pipeline.Snapshot {
	t.Helper()
	s := pipeline.Snapshot{}
	for _, rel := range rels {
		p := filepath.Join(root, rel)
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		s[p] = string(data)
	}
	return s
}

func TestValidate_SumsAllTestDirs(t *testing.T) {
	root := writeTree(t, map[string]string{
		"calc.py":              original,
		"test_root.py":         "def test_x():\n    assert True\n",
		"tests/test_calc.py":   "def test_y():\n    assert True\n",
		"pkg/tests/test_pk.py": "def test_z():\n    assert True\n",
	})
	exec := &fakeExecutor{runs: map[string]*checks.TestRun{
		root:                                {Passed: 1, Total: 1},
		filepath.Join(root, "tests"):        {Passed: 2, Failed: 1, Total: 3, Failures: []pipeline.FailureRecord{{TestID: "tests/test_calc.py::test_add"}}},
		filepath.Join(root, "pkg", "tests"): {Passed: 1, Failed: 1, Total: 2, Failures: []pipeline.FailureRecord{{TestID: "pkg/tests/test_pk.py::test_z"}}},
	}}

	var logged int
	e := NewEngine(root, exec, Options{OnTestRun: func(*checks.TestRun) { logged++ }})
	report, err := e.Validate(context.Background(), snapshotOf(t, root, "calc.py"))
	require.NoError(t, err)

	assert.Empty(t, report.GateFailed)
	assert.True(t, report.SyntaxPassed)
	assert.True(t, report.CompletenessPassed)
	assert.Equal(t, 4, report.TestsPassed)
	assert.Equal(t, 2, report.TestsFailed)
	assert.Equal(t, 6, report.TestsTotal)
	assert.Len(t, report.FailureRecords, 2)
	assert.Len(t, exec.calls, 3)
	assert.Equal(t, 3, logged)
}

func TestValidate_SyntaxCollectsEveryFile(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.py":              "def a(:\n    pass\n",
		"b.py":              "x = (\n",
		"c.py":              "ok = 1\n",
		"tests/test_one.py": "def test_one():\n    assert True\n",
	})
	exec := &fakeExecutor{}
	snap := snapshotOf(t, root, "a.py", "b.py", "c.py")

	report, err := NewEngine(root, exec, Options{}).Validate(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, pipeline.GateSyntax, report.GateFailed)
	assert.False(t, report.SyntaxPassed)

	files := map[string]bool{}
	for _, se := range report.SyntaxErrors {
		files[filepath.Base(se.File)] = true
	}
	assert.Equal(t, map[string]bool{"a.py": true, "b.py": true}, files)
	assert.Empty(t, exec.calls, "tests must not run after a failed gate")
}

func TestValidate_SignatureAgainstSnapshot(t *testing.T) {
	root := writeTree(t, map[string]string{"calc.py": original})
	snap := snapshotOf(t, root, "calc.py")
	changed := strings.Replace(original, "def add(a, b):", "def add(x, y):", 1)
	require.NoError(t, os.WriteFile(filepath.Join(root, "calc.py"), []byte(changed), 0o644))

	exec := &fakeExecutor{}
	report, err := NewEngine(root, exec, Options{}).Validate(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, pipeline.GateSignature, report.GateFailed)
	require.Len(t, report.SignatureViolations, 1)
	assert.Contains(t, report.SignatureViolations[0], "add(a, b) became add(x, y)")
	assert.Empty(t, exec.calls)
}

func TestValidate_CompletenessOnChangedFiles(t *testing.T) {
	root := writeTree(t, map[string]string{"calc.py": original})
	snap := snapshotOf(t, root, "calc.py")
	shrunk := strings.Replace(original, "def _helper(x):\n    return x\n", "", 1)
	require.NoError(t, os.WriteFile(filepath.Join(root, "calc.py"), []byte(shrunk), 0o644))

	report, err := NewEngine(root, &fakeExecutor{}, Options{}).Validate(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, pipeline.GateCompleteness, report.GateFailed)
	assert.False(t, report.CompletenessPassed)
}

func TestValidate_TimeoutFailsTestsGate(t *testing.T) {
	root := writeTree(t, map[string]string{
		"calc.py":           original,
		"tests/test_one.py": "def test_one():\n    assert True\n",
		"zz/test_two.py":    "def test_two():\n    assert True\n",
	})
	exec := &fakeExecutor{runs: map[string]*checks.TestRun{
		filepath.Join(root, "tests"): {Failed: 1, Total: 1, TimedOut: true},
	}}
	report, err := NewEngine(root, exec, Options{}).Validate(context.Background(), snapshotOf(t, root, "calc.py"))
	require.NoError(t, err)
	assert.True(t, report.TimedOut)
	assert.Equal(t, pipeline.GateTests, report.GateFailed)
	// Directories after a timed out suite are not run.
	assert.Equal(t, []string{filepath.Join(root, "tests")}, exec.calls)
}
