package pipeline

import (
	"errors"
	"fmt"
)

// ErrLocked is returned when another run already holds the target tree.
var ErrLocked = errors.New("target directory is locked by another run")

// CollaboratorError wraps a failure of an external collaborator (oracle,
// static analyzer, test executor). It always halts the run.
type CollaboratorError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Collaborator wraps err as a CollaboratorError. A nil err stays nil.
func Collaborator(name, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return &CollaboratorError{Collaborator: name, Op: op, Err: err}
}

// IsCollaborator reports whether err wraps a CollaboratorError.
func IsCollaborator(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}
