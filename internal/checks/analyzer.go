package checks

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/refactorswarm/internal/pipeline"
)

// LintIssue is one static analysis message.
type LintIssue struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
}

// String renders the issue as "line 12: unused-import (W0611) Unused import os".
func (i LintIssue) String() string {
	return fmt.Sprintf("line %d: %s (%s) %s", i.Line, i.Symbol, i.MessageID, i.Message)
}

// Analysis is the static analysis result of one file.
type Analysis struct {
	File     string      `json:"file"`
	Score    float64     `json:"score"`
	Issues   []LintIssue `json:"issues"`
	TimedOut bool        `json:"timed_out,omitempty"`
}

// Top returns at most n issue strings.
func (a *Analysis) Top(n int) []string {
	var out []string
	for i, is := range a.Issues {
		if i >= n {
			break
		}
		out = append(out, is.String())
	}
	return out
}

// StaticAnalyzer scores one source file.
type StaticAnalyzer interface {
	Analyze(ctx context.Context, file string) (*Analysis, error)
}

// PylintAnalyzer runs pylint. The command template must contain {file}.
type PylintAnalyzer struct {
	runner  *Runner
	command string
	timeout time.Duration
}

// NewPylintAnalyzer creates a PylintAnalyzer.
func NewPylintAnalyzer(runner *Runner, command string, timeout time.Duration) *PylintAnalyzer {
	return &PylintAnalyzer{runner: runner, command: command, timeout: timeout}
}

// Analyze lints file from its own directory. A timeout is not an error: the
// file gets the default score.
func (a *PylintAnalyzer) Analyze(ctx context.Context, file string) (*Analysis, error) {
	cmd := strings.ReplaceAll(a.command, "{file}", ShellQuote(filepath.Base(file)))
	res, err := a.runner.Run(ctx, filepath.Dir(file), CheckConfig{
		Name:    "pylint",
		Command: cmd,
		Parser:  "pylint",
		Timeout: a.timeout,
	})
	if err != nil {
		return nil, pipeline.Collaborator("pylint", "analyze", err)
	}
	if res.TimedOut {
		return &Analysis{File: file, Score: DefaultLintScore, TimedOut: true}, nil
	}
	// 32 is pylint's usage error bit.
	if res.ExitCode&32 != 0 {
		return nil, pipeline.Collaborator("pylint", "analyze", fmt.Errorf("usage error: %s", lastLine(res.Stderr)))
	}
	an, ok := res.Findings.(*Analysis)
	if !ok {
		an = &Analysis{Score: DefaultLintScore}
	}
	an.File = file
	return an, nil
}

// NoopAnalyzer gives every file the default score. It stands in when static
// analysis is disabled.
type NoopAnalyzer struct{}

func (NoopAnalyzer) Analyze(_ context.Context, file string) (*Analysis, error) {
	return &Analysis{File: file, Score: DefaultLintScore}, nil
}
