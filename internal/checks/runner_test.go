package checks

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

// mockCmd records calls and returns configured results.
type mockCmd struct {
	calls   []mockCall
	results []mockResult
	callIdx int
	// onRun, when set, runs before the result is returned.
	onRun func(command string)
}

type mockCall struct {
	Dir     string
	Command string
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	// Block waits for the context to end, simulating a hung process.
	Block bool
}

func (m *mockCmd) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	m.calls = append(m.calls, mockCall{Dir: dir, Command: command})
	if m.onRun != nil {
		m.onRun(command)
	}
	if m.callIdx >= len(m.results) {
		return "", "", 0, nil
	}
	r := m.results[m.callIdx]
	m.callIdx++
	if r.Block {
		<-ctx.Done()
		return r.Stdout, r.Stderr, -1, ctx.Err()
	}
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

func TestRunner_Run_HappyPath(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "3 passed in 0.02s", ExitCode: 0},
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:    "tests",
		Command: "python -m pytest -q",
		Parser:  "pytest",
		Timeout: 30 * time.Second,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passed=true, got false")
	}
	if result.CheckName != "tests" {
		t.Errorf("expected check_name=tests, got %q", result.CheckName)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.calls))
	}
	if mock.calls[0].Dir != "/tmp/test" {
		t.Errorf("expected dir=/tmp/test, got %q", mock.calls[0].Dir)
	}
}

func TestRunner_Run_FailedCheck(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "1 failed, 2 passed in 0.02s", ExitCode: 1},
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:    "tests",
		Command: "python -m pytest -q",
		Parser:  "pytest",
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Errorf("expected passed=false, got true")
	}
	if result.ExitCode != 1 {
		t.Errorf("expected exit_code=1, got %d", result.ExitCode)
	}
}

func TestRunner_Run_Timeout(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Block: true},
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:    "pytest",
		Command: "pytest",
		Parser:  "pytest-json",
		Timeout: 10 * time.Millisecond,
	})

	if err != nil {
		t.Fatalf("timeout should not be an error: %v", err)
	}
	if result.Passed || !result.TimedOut {
		t.Errorf("expected a failed, timed out result, got %+v", result)
	}
	if result.ExitCode != -1 {
		t.Errorf("expected exit_code=-1, got %d", result.ExitCode)
	}
	if !strings.HasPrefix(result.Summary, "timeout after") {
		t.Errorf("unexpected summary %q", result.Summary)
	}
}

func TestRunner_Run_CommandNotFound(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stderr: "sh: 1: pylint: not found", ExitCode: 127},
		},
	}
	runner := NewRunner(mock)

	_, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{Name: "pylint", Command: "pylint x.py", Parser: "pylint"})
	if err == nil {
		t.Fatal("expected error for exit 127")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error should carry stderr, got %v", err)
	}
}

func TestRunner_Run_InputOverridesStdout(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "noise", ExitCode: 0},
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp", CheckConfig{
		Name:    "pytest",
		Command: "pytest",
		Parser:  "pytest-json",
		Input: func() (string, bool) {
			return `{"summary": {"passed": 2, "total": 2}, "tests": []}`, true
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run := result.Findings.(*TestRun)
	if run.Passed != 2 || run.Total != 2 {
		t.Errorf("expected report counts, got %+v", run)
	}
}

func TestRunner_Run_UnknownParser(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "output", ExitCode: 0},
		},
	}
	runner := NewRunner(mock)

	_, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{
		Name:    "custom",
		Command: "custom-check",
		Parser:  "unknown-parser",
	})

	if err == nil || !strings.Contains(err.Error(), `unknown parser "unknown-parser"`) {
		t.Fatalf("expected unknown parser error, got %v", err)
	}
	if len(mock.calls) != 0 {
		t.Errorf("command should not run, got %d calls", len(mock.calls))
	}
}

func TestRunner_Run_CommandError(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Err: fmt.Errorf("fork failed")},
		},
	}
	runner := NewRunner(mock)

	_, err := runner.Run(context.Background(), "/tmp/test", CheckConfig{Name: "lint", Command: "lint"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestExecRunner_Run(t *testing.T) {
	r := &ExecRunner{}
	stdout, _, code, err := r.Run(context.Background(), t.TempDir(), "echo hello; exit 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 3 {
		t.Errorf("expected exit 3, got %d", code)
	}
	if strings.TrimSpace(stdout) != "hello" {
		t.Errorf("expected stdout hello, got %q", stdout)
	}
}

func TestShellQuote(t *testing.T) {
	if got := ShellQuote("it's"); got != `'it'\''s'` {
		t.Errorf("ShellQuote = %s", got)
	}
}
