package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status values recorded in run log entries.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
	StatusInfo    = "INFO"
)

// Entry is one line of the run log. Every phase transition and every
// collaborator call is recorded.
type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	Agent         string    `json:"agent"`
	Model         string    `json:"model,omitempty"`
	Action        string    `json:"action"`
	InputSummary  string    `json:"input_summary,omitempty"`
	OutputSummary string    `json:"output_summary,omitempty"`
	Status        string    `json:"status"`
}

// summaryLimit caps the size of input and output summaries.
const summaryLimit = 500

// RunLog is an append-only JSON-lines log. A nil *RunLog is a valid no-op.
type RunLog struct {
	mu   sync.Mutex
	f    *os.File
	path string
	now  func() time.Time
}

// OpenRunLog opens path for appending, creating parent directories.
func OpenRunLog(path string) (*RunLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir run log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &RunLog{f: f, path: path, now: time.Now}, nil
}

// Path returns the file backing the log.
func (l *RunLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record appends e. Timestamp is filled in when zero and summaries are
// truncated.
func (l *RunLog) Record(e Entry) error {
	if l == nil {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if e.Status == "" {
		e.Status = StatusInfo
	}
	e.InputSummary = Truncate(e.InputSummary, summaryLimit)
	e.OutputSummary = Truncate(e.OutputSummary, summaryLimit)

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal run log entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *RunLog) Close() error {
	if l == nil {
		return nil
	}
	return l.f.Close()
}

// ReadEntries loads every entry of a run log file.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("parse run log line %d: %w", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// Truncate shortens s to at most n bytes, marking the cut.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
