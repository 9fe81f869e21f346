package checks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/lucasnoah/refactorswarm/internal/pipeline"
)

// TestFilePattern matches pytest's default test module names.
const TestFilePattern = "{test_*,*_test}.py"

// TestRun is the outcome of one test executor invocation.
type TestRun struct {
	Dir        string                   `json:"dir"`
	Passed     int                      `json:"passed"`
	Failed     int                      `json:"failed"`
	Total      int                      `json:"total"`
	TimedOut   bool                     `json:"timed_out,omitempty"`
	ExitCode   int                      `json:"exit_code"`
	DurationMs int                      `json:"duration_ms"`
	Failures   []pipeline.FailureRecord `json:"failures,omitempty"`
}

// Summary renders the counts for logs.
func (r *TestRun) Summary() string {
	if r.TimedOut {
		return "timed out"
	}
	return fmt.Sprintf("%d passed, %d failed out of %d", r.Passed, r.Failed, r.Total)
}

// TestExecutor runs the tests of one directory.
type TestExecutor interface {
	Run(ctx context.Context, dir string) (*TestRun, error)
}

// PytestExecutor runs pytest on the test modules directly inside a directory.
// The command template may use {targets} and {report}.
type PytestExecutor struct {
	runner  *Runner
	command string
	timeout time.Duration
}

// NewPytestExecutor creates a PytestExecutor.
func NewPytestExecutor(runner *Runner, command string, timeout time.Duration) *PytestExecutor {
	return &PytestExecutor{runner: runner, command: command, timeout: timeout}
}

// Run executes the suite of dir. A timeout yields a single failed test; an
// unusable pytest installation is a collaborator error.
func (e *PytestExecutor) Run(ctx context.Context, dir string) (*TestRun, error) {
	targets, err := TestFiles(dir)
	if err != nil {
		return nil, pipeline.Collaborator("pytest", "run", err)
	}
	if len(targets) == 0 {
		return &TestRun{Dir: dir}, nil
	}

	run, stderr, err := e.runOnce(ctx, dir, e.command, targets)
	if err != nil {
		return nil, pipeline.Collaborator("pytest", "run", err)
	}

	// Exit 4 is a usage error. Without the json-report plugin pytest rejects
	// its flags, so retry once on plain terminal output.
	if run.ExitCode == 4 && run.Total == 0 && strings.Contains(e.command, "--json-report") {
		run, stderr, err = e.runOnce(ctx, dir, stripJSONReport(e.command), targets)
		if err != nil {
			return nil, pipeline.Collaborator("pytest", "run", err)
		}
	}
	if run.ExitCode == 4 && run.Total == 0 {
		return nil, pipeline.Collaborator("pytest", "run", fmt.Errorf("usage error: %s", lastLine(stderr)))
	}
	return run, nil
}

func (e *PytestExecutor) runOnce(ctx context.Context, dir, command string, targets []string) (*TestRun, string, error) {
	report, err := os.CreateTemp("", "swarm-pytest-*.json")
	if err != nil {
		return nil, "", fmt.Errorf("create report file: %w", err)
	}
	reportPath := report.Name()
	report.Close()
	os.Remove(reportPath)
	defer os.Remove(reportPath)

	quoted := make([]string, len(targets))
	for i, t := range targets {
		quoted[i] = ShellQuote(t)
	}
	cmd := strings.NewReplacer(
		"{report}", ShellQuote(reportPath),
		"{targets}", strings.Join(quoted, " "),
	).Replace(command)

	res, err := e.runner.Run(ctx, dir, CheckConfig{
		Name:    "pytest",
		Command: cmd,
		Parser:  "pytest-json",
		Timeout: e.timeout,
		Input: func() (string, bool) {
			data, err := os.ReadFile(reportPath)
			if err != nil {
				return "", false
			}
			return string(data), true
		},
	})
	if err != nil {
		return nil, "", err
	}

	if res.TimedOut {
		return &TestRun{
			Dir:        dir,
			Failed:     1,
			Total:      1,
			TimedOut:   true,
			ExitCode:   res.ExitCode,
			DurationMs: res.DurationMs,
			Failures: []pipeline.FailureRecord{{
				TestID:  dir,
				Message: res.Summary,
			}},
		}, res.Stderr, nil
	}

	run, ok := res.Findings.(*TestRun)
	if !ok {
		run = &TestRun{}
	}
	run.Dir = dir
	run.ExitCode = res.ExitCode
	run.DurationMs = res.DurationMs
	return run, res.Stderr, nil
}

func stripJSONReport(command string) string {
	var kept []string
	for _, f := range strings.Fields(command) {
		if strings.HasPrefix(f, "--json-report") {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// TestFiles lists the test modules directly inside dir, sorted by name.
func TestFiles(dir string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), TestFilePattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", dir, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// skipDirs are never searched for tests.
var skipDirs = map[string]bool{
	"__pycache__": true, ".git": true, ".swarm": true, ".venv": true, "venv": true,
	"build": true, "dist": true, "node_modules": true, ".pytest_cache": true,
}

// TestDirs returns every directory under root that directly holds a test
// module, sorted, root first when it has tests itself.
func TestDirs(root string) ([]string, error) {
	seen := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (skipDirs[d.Name()] || strings.HasSuffix(d.Name(), ".egg-info")) {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := doublestar.Match(TestFilePattern, d.Name()); ok {
			seen[filepath.Dir(path)] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find test dirs in %s: %w", root, err)
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// ShellQuote quotes s for sh.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
