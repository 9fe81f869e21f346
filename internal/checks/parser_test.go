package checks

import (
	"strings"
	"testing"
)

const pytestJSONReport = `{
  "duration": 0.42,
  "exitcode": 1,
  "summary": {"passed": 2, "failed": 1, "total": 3, "collected": 3},
  "collectors": [{"nodeid": "", "outcome": "passed", "longrepr": ""}],
  "tests": [
    {"nodeid": "tests/test_calc.py::test_add", "outcome": "passed"},
    {"nodeid": "tests/test_calc.py::test_sub", "outcome": "passed"},
    {"nodeid": "tests/test_calc.py::test_divide_zero", "outcome": "failed",
     "setup": {"outcome": "passed"},
     "call": {"outcome": "failed",
              "crash": {"path": "calc.py", "lineno": 9, "message": "ZeroDivisionError: division by zero"},
              "longrepr": "def test_divide_zero():\n    with pytest.raises(ValueError):\n>       divide(1, 0)\nE   ZeroDivisionError: division by zero"}}
  ]
}`

func TestPytestJSONParser_Report(t *testing.T) {
	p := &PytestJSONParser{}
	r := p.Parse(pytestJSONReport, "", 1)
	if r.Passed {
		t.Error("expected passed=false")
	}
	if r.Summary != "2 passed, 1 failed out of 3" {
		t.Errorf("unexpected summary: %q", r.Summary)
	}
	run := r.Findings.(*TestRun)
	if len(run.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(run.Failures))
	}
	f := run.Failures[0]
	if f.TestID != "tests/test_calc.py::test_divide_zero" {
		t.Errorf("unexpected test id %q", f.TestID)
	}
	if f.Message != "ZeroDivisionError: division by zero" {
		t.Errorf("unexpected message %q", f.Message)
	}
	if !strings.Contains(f.Diagnostic, "pytest.raises(ValueError)") {
		t.Errorf("diagnostic missing traceback: %q", f.Diagnostic)
	}
}

func TestPytestJSONParser_SetupErrorAndCollector(t *testing.T) {
	input := `{
	  "summary": {"passed": 0, "error": 1, "total": 1},
	  "collectors": [{"nodeid": "tests/test_broken.py", "outcome": "failed",
	                  "longrepr": "ImportError while importing test module\nE   ModuleNotFoundError: No module named 'calc'"}],
	  "tests": [{"nodeid": "tests/test_a.py::test_fixture", "outcome": "error",
	             "setup": {"outcome": "failed", "crash": {"message": "fixture 'db' not found"}, "longrepr": "E fixture 'db' not found"}}]
	}`
	r := (&PytestJSONParser{}).Parse(input, "", 2)
	run := r.Findings.(*TestRun)
	if run.Failed != 2 || run.Total != 2 {
		t.Errorf("expected 2 failed of 2, got %+v", run)
	}
	if run.Failures[0].Message != "fixture 'db' not found" {
		t.Errorf("setup failure message = %q", run.Failures[0].Message)
	}
	if !strings.Contains(run.Failures[1].Message, "No module named") {
		t.Errorf("collector failure message = %q", run.Failures[1].Message)
	}
}

func TestPytestJSONParser_DiagnosticTruncated(t *testing.T) {
	long := strings.Repeat("x", 2000)
	input := `{"summary": {"failed": 1, "total": 1}, "tests": [{"nodeid": "t.py::test_x", "outcome": "failed",
	  "call": {"outcome": "failed", "crash": {"message": "boom"}, "longrepr": "` + long + `"}}]}`
	run := (&PytestJSONParser{}).Parse(input, "", 1).Findings.(*TestRun)
	if len(run.Failures[0].Diagnostic) != maxDiagnosticLen {
		t.Errorf("diagnostic length = %d", len(run.Failures[0].Diagnostic))
	}
}

func TestPytestJSONParser_FallsBackToText(t *testing.T) {
	r := (&PytestJSONParser{}).Parse("=== 3 passed in 0.01s ===", "", 0)
	if !r.Passed {
		t.Error("expected passed=true")
	}
	run := r.Findings.(*TestRun)
	if run.Passed != 3 || run.Total != 3 {
		t.Errorf("unexpected counts %+v", run)
	}
}

const pytestTextOutput = `..F.
=================================== FAILURES ===================================
_________________________________ test_divide __________________________________
    def test_divide():
>       assert divide(4, 2) == 3
E       assert 2.0 == 3
E        +  where 2.0 = divide(4, 2)

tests/test_calc.py:7: AssertionError
____________________________ TestCalc.test_total _______________________________
    def test_total(self):
>       assert Calculator().total() == 1
E       assert 0 == 1
=========================== short test summary info ============================
FAILED tests/test_calc.py::test_divide - assert 2.0 == 3
FAILED tests/test_calc.py::TestCalc::test_total - assert 0 == 1
========================= 2 failed, 2 passed in 0.05s ==========================
`

func TestPytestTextParser_Summary(t *testing.T) {
	r := (&PytestTextParser{}).Parse(pytestTextOutput, "", 1)
	if r.Passed {
		t.Error("expected passed=false")
	}
	run := r.Findings.(*TestRun)
	if run.Passed != 2 || run.Failed != 2 || run.Total != 4 {
		t.Fatalf("unexpected counts %+v", run)
	}
	if len(run.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(run.Failures))
	}
	if run.Failures[0].Message != "assert 2.0 == 3" {
		t.Errorf("message = %q", run.Failures[0].Message)
	}
	if !strings.Contains(run.Failures[0].Diagnostic, "where 2.0 = divide(4, 2)") {
		t.Errorf("diagnostic = %q", run.Failures[0].Diagnostic)
	}
	if !strings.Contains(run.Failures[1].Diagnostic, "assert 0 == 1") {
		t.Errorf("class diagnostic = %q", run.Failures[1].Diagnostic)
	}
}

func TestPytestTextParser_QuietSummary(t *testing.T) {
	run := (&PytestTextParser{}).Parse("5 passed, 1 skipped in 0.10s\n", "", 0).Findings.(*TestRun)
	if run.Passed != 5 || run.Total != 5 || run.Failed != 0 {
		t.Errorf("unexpected counts %+v", run)
	}
}

func TestPytestTextParser_SkippedAndXfailedExcludedFromTotal(t *testing.T) {
	line := "==== 1 failed, 3 passed, 2 skipped, 1 xfailed, 1 xpassed, 1 error in 0.31s ===="
	r := (&PytestTextParser{}).Parse(line, "", 1)
	run := r.Findings.(*TestRun)
	if run.Passed != 4 || run.Failed != 2 || run.Total != 6 {
		t.Errorf("unexpected counts %+v", run)
	}
	if r.Summary != "4 passed, 2 failed out of 6" {
		t.Errorf("summary = %q", r.Summary)
	}
}

func TestPytestJSONParser_SkippedExcludedFromTotal(t *testing.T) {
	input := `{"summary": {"passed": 2, "skipped": 3, "xfailed": 1, "xpassed": 1, "total": 7}, "tests": []}`
	r := (&PytestJSONParser{}).Parse(input, "", 0)
	run := r.Findings.(*TestRun)
	if run.Passed != 3 || run.Total != 3 {
		t.Errorf("unexpected counts %+v", run)
	}
	if !r.Passed {
		t.Error("expected passed=true")
	}
}

func TestPytestTextParser_NoTests(t *testing.T) {
	r := (&PytestTextParser{}).Parse("no tests ran in 0.01s", "", 5)
	if !r.Passed {
		t.Error("exit 5 with no tests should pass")
	}
	if run := r.Findings.(*TestRun); run.Total != 0 {
		t.Errorf("expected total=0, got %d", run.Total)
	}
}

func TestPytestTextParser_CrashWithoutSummary(t *testing.T) {
	run := (&PytestTextParser{}).Parse("", "Traceback...\nSystemError: boom", 3).Findings.(*TestRun)
	if run.Failed != 1 || run.Total != 1 {
		t.Fatalf("expected a single failed record, got %+v", run)
	}
	if !strings.Contains(run.Failures[0].Diagnostic, "SystemError") {
		t.Errorf("diagnostic = %q", run.Failures[0].Diagnostic)
	}
}

func TestPylintParser_JSON2(t *testing.T) {
	input := `{
	  "messages": [
	    {"type": "warning", "symbol": "unused-import", "message": "Unused import os", "messageId": "W0611", "line": 1, "column": 0},
	    {"type": "convention", "symbol": "missing-function-docstring", "message": "Missing function or method docstring", "messageId": "C0116", "line": 4, "column": 0}
	  ],
	  "statistics": {"score": 7.5}
	}`
	r := (&PylintParser{}).Parse(input, "", 20)
	if !r.Passed {
		t.Error("warnings and conventions should not fail the check")
	}
	a := r.Findings.(*Analysis)
	if a.Score != 7.5 {
		t.Errorf("score = %v", a.Score)
	}
	if len(a.Issues) != 2 || a.Issues[0].MessageID != "W0611" {
		t.Fatalf("issues = %+v", a.Issues)
	}
	if got := a.Issues[0].String(); got != "line 1: unused-import (W0611) Unused import os" {
		t.Errorf("String() = %q", got)
	}
}

func TestPylintParser_JSONWithRatedAt(t *testing.T) {
	input := `[{"type": "error", "symbol": "undefined-variable", "message": "Undefined variable 'x'", "message-id": "E0602", "line": 3, "column": 4}]`
	r := (&PylintParser{}).Parse(input, "Your code has been rated at 3.33/10", 2)
	if r.Passed {
		t.Error("error messages should fail the check")
	}
	a := r.Findings.(*Analysis)
	if a.Score != 3.33 {
		t.Errorf("score = %v", a.Score)
	}
	if a.Issues[0].MessageID != "E0602" {
		t.Errorf("message id = %q", a.Issues[0].MessageID)
	}
}

func TestPylintParser_DefaultScore(t *testing.T) {
	a := (&PylintParser{}).Parse("garbage", "", 0).Findings.(*Analysis)
	if a.Score != DefaultLintScore {
		t.Errorf("score = %v, want %v", a.Score, DefaultLintScore)
	}
}
