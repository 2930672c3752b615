// Package source defines how per-site, per-variable output arrays are read
// back from the simulation's output directory.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/siterun/pkg/runconfig"
)

var (
	// ErrNotFound indicates the output file or the variable inside it does
	// not exist.
	ErrNotFound = errors.New("source not found")

	// ErrSourceReadFailure indicates an output file exists but could not be
	// opened or parsed.
	ErrSourceReadFailure = errors.New("source read failure")
)

// Array is one variable's time coordinate and values.
//
// Missing[i] marks Values[i] as a fill value. Epoch is the zero point of
// Time when the file declares one; the zero time means the default epoch.
type Array struct {
	Time    []float64
	Values  []float64
	Missing []bool
	Epoch   time.Time
}

// Validate checks that the slices line up.
func (a *Array) Validate() error {
	if len(a.Time) != len(a.Values) {
		return fmt.Errorf("time has %d steps but values has %d", len(a.Time), len(a.Values))
	}
	if a.Missing != nil && len(a.Missing) != len(a.Values) {
		return fmt.Errorf("values has %d entries but missing mask has %d", len(a.Values), len(a.Missing))
	}
	return nil
}

// ArraySource reads one variable for one site and resolution.
//
// Implementations return an error matching ErrNotFound when the file or the
// variable is absent and a *ReadError when the file exists but cannot be read.
type ArraySource interface {
	Read(ctx context.Context, site, variable string, res runconfig.Resolution) (*Array, error)
}

// FileName returns the consolidated output file name for a variable.
func FileName(site, variable string, res runconfig.Resolution) string {
	return fmt.Sprintf("%s.%s.%s.nc", site, res.Code(), variable)
}

// NotFoundError describes a missing file or variable.
type NotFoundError struct {
	Path     string
	Variable string
}

func (e *NotFoundError) Error() string {
	if e.Variable == "" {
		return fmt.Sprintf("%s: file not found", e.Path)
	}
	return fmt.Sprintf("%s: variable %q not found", e.Path, e.Variable)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ReadError describes a file that exists but could not be read.
type ReadError struct {
	Path     string
	Variable string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s (%s): %v", e.Path, e.Variable, e.Err)
}

func (e *ReadError) Unwrap() []error {
	return []error{ErrSourceReadFailure, e.Err}
}

// IsNotFound reports whether err marks an absent file or variable.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsReadFailure reports whether err marks an unreadable file.
func IsReadFailure(err error) bool {
	return errors.Is(err, ErrSourceReadFailure)
}
