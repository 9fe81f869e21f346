package checks

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultLintScore is used when pylint reports no score.
const DefaultLintScore = 5.0

// PylintParser parses pylint's json or json2 output format.
type PylintParser struct{}

type pylintMessage struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Message   string `json:"message"`
	MessageID string `json:"message-id"`
	ID2       string `json:"messageId"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
}

type pylintJSON2 struct {
	Messages   []pylintMessage `json:"messages"`
	Statistics struct {
		Score *float64 `json:"score"`
	} `json:"statistics"`
}

var pylintScoreRe = regexp.MustCompile(`rated at (-?[0-9.]+)/10`)

func (p *PylintParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	a := &Analysis{Score: -1}

	trimmed := strings.TrimSpace(stdout)
	switch {
	case strings.HasPrefix(trimmed, "{"):
		var raw pylintJSON2
		if err := json.Unmarshal([]byte(trimmed), &raw); err == nil {
			a.Issues = lintIssues(raw.Messages)
			if raw.Statistics.Score != nil {
				a.Score = *raw.Statistics.Score
			}
		}
	case strings.HasPrefix(trimmed, "["):
		var raw []pylintMessage
		if err := json.Unmarshal([]byte(trimmed), &raw); err == nil {
			a.Issues = lintIssues(raw)
		}
	}

	if a.Score < 0 {
		a.Score = DefaultLintScore
		if m := pylintScoreRe.FindStringSubmatch(stdout + "\n" + stderr); m != nil {
			if s, err := strconv.ParseFloat(m[1], 64); err == nil {
				a.Score = s
			}
		}
	}

	// Exit status is a bitmask; 1 and 2 mean fatal and error messages.
	return ParseResult{
		Passed:   exitCode&3 == 0,
		Summary:  fmt.Sprintf("score %.2f/10, %d issues", a.Score, len(a.Issues)),
		Findings: a,
	}
}

func lintIssues(msgs []pylintMessage) []LintIssue {
	out := make([]LintIssue, 0, len(msgs))
	for _, m := range msgs {
		id := m.MessageID
		if id == "" {
			id = m.ID2
		}
		out = append(out, LintIssue{
			Type:      m.Type,
			Symbol:    m.Symbol,
			MessageID: id,
			Message:   m.Message,
			Line:      m.Line,
			Column:    m.Column,
		})
	}
	return out
}
