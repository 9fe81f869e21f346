package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store manages run state on disk.
type Store struct {
	baseDir string // defaults to ~/.swarm/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at <stateDir>/runs, creating the directory if needed.
// An empty stateDir means ~/.swarm.
func DefaultStore(stateDir string) (*Store, error) {
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		stateDir = filepath.Join(home, ".swarm")
	}
	dir := filepath.Join(stateDir, "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// RunDir returns the directory holding all artifacts of a run.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) statePath(runID string) string {
	return filepath.Join(s.RunDir(runID), "state.json")
}

func (s *Store) reportPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "report.json")
}

// RunLogPath returns the path of the append-only run log.
func (s *Store) RunLogPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "run.jsonl")
}

// MetricsPath returns the path of the run's metrics textfile.
func (s *Store) MetricsPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "metrics.prom")
}

// BackupDir returns the directory holding pre-mutation copies of source files.
func (s *Store) BackupDir(runID string) string {
	return filepath.Join(s.RunDir(runID), "backups")
}

// Create initialises a new run on disk with a fresh run ID.
func (s *Store) Create(targetDir string, maxIterations int, threshold float64) (*SwarmState, error) {
	runID := uuid.New().String()
	dir := s.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir run dir: %w", err)
	}

	now := time.Now().UTC()
	st := &SwarmState{
		RunID:            runID,
		TargetDir:        targetDir,
		Phase:            PhaseInit,
		MaxIterations:    maxIterations,
		SuccessThreshold: threshold,
		StartedAt:        now,
		UpdatedAt:        now,
	}
	if err := WriteJSON(s.statePath(runID), st); err != nil {
		return nil, fmt.Errorf("write state.json: %w", err)
	}
	return st, nil
}

// Save persists the current state of a run.
func (s *Store) Save(st *SwarmState) error {
	st.UpdatedAt = time.Now().UTC()
	return WriteJSON(s.statePath(st.RunID), st)
}

// Get reads the state of a run.
func (s *Store) Get(runID string) (*SwarmState, error) {
	var st SwarmState
	if err := ReadJSON(s.statePath(runID), &st); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	return &st, nil
}

// SaveReport writes the final report of a run.
func (s *Store) SaveReport(r *Report) error {
	return WriteJSON(s.reportPath(r.RunID), r)
}

// GetReport reads the final report of a run.
func (s *Store) GetReport(runID string) (*Report, error) {
	var r Report
	if err := ReadJSON(s.reportPath(runID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns all runs, most recent first.
func (s *Store) List() ([]SwarmState, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []SwarmState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		st, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		runs = append(runs, *st)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// Backup copies the original content of a source file into the run's backup
// directory. Only the first call per file is honoured so the backup always
// holds the pre-run content.
func (s *Store) Backup(runID, targetDir, path string) (string, error) {
	rel, err := filepath.Rel(targetDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	dest := filepath.Join(s.BackupDir(runID), rel)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s for backup: %w", path, err)
	}
	if err := WriteAtomic(dest, data); err != nil {
		return "", fmt.Errorf("write backup %s: %w", dest, err)
	}
	return dest, nil
}
