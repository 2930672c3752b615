// Package sourcetest provides an in-memory ArraySource for tests.
package sourcetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/3leaps/siterun/pkg/runconfig"
	"github.com/3leaps/siterun/pkg/source"
)

// Source serves arrays registered with Put and counts reads.
type Source struct {
	mu     sync.Mutex
	arrays map[string]*source.Array
	errs   map[string]error
	reads  map[string]int
}

// New returns an empty Source.
func New() *Source {
	return &Source{
		arrays: map[string]*source.Array{},
		errs:   map[string]error{},
		reads:  map[string]int{},
	}
}

func key(site, variable string, res runconfig.Resolution) string {
	return source.FileName(site, variable, res)
}

// Put registers an array. Days are the raw time coordinate.
func (s *Source) Put(site, variable string, res runconfig.Resolution, days []float64, values []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arrays[key(site, variable, res)] = &source.Array{Time: days, Values: values}
}

// PutArray registers a prepared array.
func (s *Source) PutArray(site, variable string, res runconfig.Resolution, a *source.Array) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arrays[key(site, variable, res)] = a
}

// Fail makes reads of the variable return a *source.ReadError wrapping err.
func (s *Source) Fail(site, variable string, res runconfig.Resolution, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[key(site, variable, res)] = err
}

// Reads returns how many times the variable was read.
func (s *Source) Reads(site, variable string, res runconfig.Resolution) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[key(site, variable, res)]
}

// Read implements source.ArraySource.
func (s *Source) Read(ctx context.Context, site, variable string, res runconfig.Resolution) (*source.Array, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := key(site, variable, res)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[k]++
	if err, ok := s.errs[k]; ok {
		return nil, &source.ReadError{Path: k, Variable: variable, Err: err}
	}
	a, ok := s.arrays[k]
	if !ok {
		return nil, &source.NotFoundError{Path: k}
	}
	if err := a.Validate(); err != nil {
		return nil, &source.ReadError{Path: k, Variable: variable, Err: fmt.Errorf("shape: %w", err)}
	}
	return a, nil
}
