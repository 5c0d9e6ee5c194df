package beamtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNotEmpty is returned when a beamtime starts on a working directory that holds data.
	ErrNotEmpty = errors.New("working directory is not empty")
	// ErrPathConflict is returned instead of overwriting an existing archive destination.
	ErrPathConflict = errors.New("destination already exists")
	// ErrAborted is returned when the operator declines to continue.
	ErrAborted = errors.New("aborted by operator")
)

// MoveError describes a working directory that could not be archived.
type MoveError struct {
	Src  string
	Dest string
	Err  error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s -> %s: %v", e.Src, e.Dest, e.Err)
}

func (e *MoveError) Unwrap() error {
	return e.Err
}
