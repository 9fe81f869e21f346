package checks

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasnoah/refactorswarm/internal/pipeline"
)

// maxDiagnosticLen caps the traceback kept per failing test.
const maxDiagnosticLen = 500

// PytestJSONParser parses a pytest-json-report file. Input that is not a
// report is handed to PytestTextParser.
type PytestJSONParser struct{}

type pytestReport struct {
	Duration float64 `json:"duration"`
	ExitCode int     `json:"exitcode"`
	Summary  struct {
		Passed    int `json:"passed"`
		Failed    int `json:"failed"`
		Error     int `json:"error"`
		XPassed   int `json:"xpassed"`
		Skipped   int `json:"skipped"`
		Total     int `json:"total"`
		Collected int `json:"collected"`
	} `json:"summary"`
	Tests      []pytestTest      `json:"tests"`
	Collectors []pytestCollector `json:"collectors"`
}

type pytestTest struct {
	NodeID   string       `json:"nodeid"`
	Outcome  string       `json:"outcome"`
	Setup    *pytestStage `json:"setup"`
	Call     *pytestStage `json:"call"`
	Teardown *pytestStage `json:"teardown"`
}

type pytestStage struct {
	Outcome string `json:"outcome"`
	Crash   *struct {
		Path    string `json:"path"`
		Lineno  int    `json:"lineno"`
		Message string `json:"message"`
	} `json:"crash"`
	Longrepr string `json:"longrepr"`
}

type pytestCollector struct {
	NodeID   string `json:"nodeid"`
	Outcome  string `json:"outcome"`
	Longrepr string `json:"longrepr"`
}

func (p *PytestJSONParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var raw pytestReport
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil || !strings.Contains(stdout, `"summary"`) {
		return (&PytestTextParser{}).Parse(stdout, stderr, exitCode)
	}

	// Skipped and xfailed tests never ran to an outcome and stay out of Total.
	run := &TestRun{
		Passed: raw.Summary.Passed + raw.Summary.XPassed,
		Failed: raw.Summary.Failed + raw.Summary.Error,
	}
	run.Total = run.Passed + run.Failed

	for _, t := range raw.Tests {
		if t.Outcome != "failed" && t.Outcome != "error" {
			continue
		}
		stage := failingStage(t)
		rec := pipeline.FailureRecord{TestID: t.NodeID}
		if stage != nil {
			if stage.Crash != nil {
				rec.Message = stage.Crash.Message
			}
			rec.Diagnostic = clip(stage.Longrepr, maxDiagnosticLen)
		}
		run.Failures = append(run.Failures, rec)
	}

	// A module that fails to import yields no tests at all; count each broken
	// collector as one failing test so the run is not mistaken for an empty suite.
	for _, c := range raw.Collectors {
		if c.Outcome != "failed" {
			continue
		}
		run.Failed++
		run.Total++
		run.Failures = append(run.Failures, pipeline.FailureRecord{
			TestID:     c.NodeID,
			Message:    "collection error: " + lastLine(c.Longrepr),
			Diagnostic: clip(c.Longrepr, maxDiagnosticLen),
		})
	}

	return ParseResult{
		Passed:   run.Failed == 0 && (exitCode == 0 || exitCode == 5),
		Summary:  run.Summary(),
		Findings: run,
	}
}

func failingStage(t pytestTest) *pytestStage {
	for _, s := range []*pytestStage{t.Call, t.Setup, t.Teardown} {
		if s != nil && s.Outcome != "" && s.Outcome != "passed" {
			return s
		}
	}
	return t.Call
}

// PytestTextParser reads the terminal output of pytest: the final
// "N passed, M failed" line, the short test summary and failure sections.
type PytestTextParser struct{}

var (
	pytestCountRe   = regexp.MustCompile(`(\d+) (passed|failed|errors?|skipped|xfailed|xpassed)`)
	pytestFailedRe  = regexp.MustCompile(`(?m)^(FAILED|ERROR) (\S+)(?: - (.*))?$`)
	pytestSectionRe = regexp.MustCompile(`^_{3,} (.+?) _{3,}$`)
)

func (p *PytestTextParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	output := stdout
	if stderr != "" {
		output += "\n" + stderr
	}

	run := &TestRun{}
	counted := false
	for _, line := range strings.Split(output, "\n") {
		if !isPytestSummaryLine(line) {
			continue
		}
		for _, m := range pytestCountRe.FindAllStringSubmatch(line, -1) {
			n, _ := strconv.Atoi(m[1])
			switch m[2] {
			case "passed", "xpassed":
				run.Passed += n
				run.Total += n
			case "failed", "error", "errors":
				run.Failed += n
				run.Total += n
			}
			counted = true
		}
	}

	sections := pytestSections(output)
	for _, m := range pytestFailedRe.FindAllStringSubmatch(output, -1) {
		id := m[2]
		run.Failures = append(run.Failures, pipeline.FailureRecord{
			TestID:     id,
			Message:    strings.TrimSpace(m[3]),
			Diagnostic: clip(sections[sectionKey(id)], maxDiagnosticLen),
		})
	}

	if !counted && exitCode != 0 && exitCode != 5 && exitCode != 4 {
		// pytest failed without reaching its summary.
		run.Failed, run.Total = 1, 1
		run.Failures = append(run.Failures, pipeline.FailureRecord{
			TestID:     "pytest",
			Message:    fmt.Sprintf("pytest exited with code %d", exitCode),
			Diagnostic: clipTail(output, maxDiagnosticLen),
		})
	}

	return ParseResult{
		Passed:   run.Failed == 0 && (exitCode == 0 || exitCode == 5),
		Summary:  run.Summary(),
		Findings: run,
	}
}

// isPytestSummaryLine matches "===== 3 passed, 1 failed in 0.12s =====" and
// the bare -q form "3 passed, 1 failed in 0.12s".
func isPytestSummaryLine(line string) bool {
	line = strings.Trim(strings.TrimSpace(line), "= ")
	if !pytestCountRe.MatchString(line) {
		return false
	}
	return strings.Contains(line, " in ") || strings.HasPrefix(line, "no tests ran")
}

// pytestSections maps failure section titles ("test_add", "TestCalc.test_x")
// to their bodies.
func pytestSections(output string) map[string]string {
	out := make(map[string]string)
	var title string
	var body strings.Builder
	flush := func() {
		if title != "" {
			out[title] = strings.TrimSpace(body.String())
		}
		body.Reset()
	}
	for _, line := range strings.Split(output, "\n") {
		if m := pytestSectionRe.FindStringSubmatch(line); m != nil {
			flush()
			title = m[1]
			continue
		}
		if strings.HasPrefix(line, "=====") {
			flush()
			title = ""
			continue
		}
		if title != "" {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	flush()
	return out
}

// sectionKey turns "tests/test_a.py::TestCalc::test_x" into "TestCalc.test_x".
func sectionKey(nodeID string) string {
	parts := strings.Split(nodeID, "::")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.Join(parts, ".")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func clipTail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
