package checks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// DefaultTimeout applies when a check has no timeout configured.
const DefaultTimeout = 2 * time.Minute

// Exit codes of sh -c when the command itself is unusable.
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// Result holds the structured output of a check run.
type Result struct {
	CheckName  string      `json:"check_name"`
	Passed     bool        `json:"passed"`
	TimedOut   bool        `json:"timed_out,omitempty"`
	ExitCode   int         `json:"exit_code"`
	DurationMs int         `json:"duration_ms"`
	Summary    string      `json:"summary"`
	Findings   interface{} `json:"findings,omitempty"`
	Stdout     string      `json:"stdout,omitempty"`
	Stderr     string      `json:"stderr,omitempty"`
}

// CheckConfig is the command, parser and timeout of one check.
type CheckConfig struct {
	Name    string
	Command string
	Parser  string
	Timeout time.Duration
	// Input, when set, is handed to the parser instead of stdout. It is read
	// after the command finishes, for tools that write a report file.
	Input func() (string, bool)
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	// Kill the whole process group so pytest workers do not outlive a timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			if ctx.Err() != nil {
				return stdoutBuf.String(), stderrBuf.String(), -1, ctx.Err()
			}
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes checks and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	r := &Runner{
		cmd:     cmd,
		parsers: make(map[string]Parser),
	}
	r.parsers["pytest-json"] = &PytestJSONParser{}
	r.parsers["pytest"] = &PytestTextParser{}
	r.parsers["pylint"] = &PylintParser{}
	return r
}

// Run executes a single check in the given directory. A timeout is reported
// as a failed Result, not as an error.
func (r *Runner) Run(ctx context.Context, dir string, cfg CheckConfig) (*Result, error) {
	parser, ok := r.parsers[cfg.Parser]
	if !ok {
		return nil, fmt.Errorf("run check %q: unknown parser %q", cfg.Name, cfg.Parser)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, dir, cfg.Command)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		// Context deadline exceeded → timeout
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Result{
				CheckName:  cfg.Name,
				Passed:     false,
				TimedOut:   true,
				ExitCode:   -1,
				DurationMs: durationMs,
				Summary:    fmt.Sprintf("timeout after %s", timeout),
				Stdout:     stdout,
				Stderr:     stderr,
			}, nil
		}
		return nil, fmt.Errorf("run check %q: %w", cfg.Name, err)
	}
	if exitCode == exitNotFound || exitCode == exitNotExecutable {
		return nil, fmt.Errorf("run check %q: command unavailable (exit %d): %s", cfg.Name, exitCode, lastLine(stderr))
	}

	input := stdout
	if cfg.Input != nil {
		if s, ok := cfg.Input(); ok {
			input = s
		}
	}
	parsed := parser.Parse(input, stderr, exitCode)

	return &Result{
		CheckName:  cfg.Name,
		Passed:     parsed.Passed,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    parsed.Summary,
		Findings:   parsed.Findings,
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
