package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// TargetLock is an exclusive, non-blocking lock on a target tree. It keeps
// two runs from rewriting the same files.
type TargetLock struct {
	flock *flock.Flock
	path  string
}

// LockTarget acquires the lock for targetDir. The lock file lives in the
// state directory so the target tree is not polluted.
func LockTarget(stateDir, targetDir string) (*TargetLock, error) {
	abs, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", targetDir, err)
	}
	lockDir := filepath.Join(stateDir, "locks")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", lockDir, err)
	}
	path := filepath.Join(lockDir, lockName(abs)+".lock")

	fl := flock.New(path)
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("try lock on %s: %w", path, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%s: %w", abs, ErrLocked)
	}
	return &TargetLock{flock: fl, path: path}, nil
}

// Unlock releases the lock.
func (l *TargetLock) Unlock() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock on %s: %w", l.path, err)
	}
	return nil
}

// lockName flattens an absolute path into a file name.
func lockName(abs string) string {
	out := make([]byte, 0, len(abs))
	for i := 0; i < len(abs); i++ {
		c := abs[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
