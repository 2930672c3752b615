package dispatch

import (
	"errors"
	"fmt"
)

// ErrExecutableUnavailable indicates the simulation binary is missing and
// could be neither built nor fetched. It aborts the batch.
var ErrExecutableUnavailable = errors.New("simulation executable unavailable")

// ExecutableError describes how obtaining the executable failed.
type ExecutableError struct {
	Op   string
	Path string
	Err  error
}

func (e *ExecutableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: executable unavailable", e.Op, e.Path)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ExecutableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExecutableUnavailable}
	}
	return []error{ErrExecutableUnavailable, e.Err}
}

// IsExecutableUnavailable reports whether err is fatal for lack of a binary.
func IsExecutableUnavailable(err error) bool {
	return errors.Is(err, ErrExecutableUnavailable)
}
