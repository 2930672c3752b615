package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/siterun/pkg/assemble"
	"github.com/3leaps/siterun/pkg/batch"
	"github.com/3leaps/siterun/pkg/dispatch"
	"github.com/3leaps/siterun/pkg/process"
	"github.com/3leaps/siterun/pkg/runconfig"
)

type stubRunner struct {
	calls int
	sum   *dispatch.Summary
	err   error
}

func (s *stubRunner) Run(context.Context, *runconfig.RunConfiguration) (*dispatch.Summary, error) {
	s.calls++
	return s.sum, s.err
}

type stubReader struct {
	calls  int
	result batch.Result
	err    error
}

func (s *stubReader) ReadAll(context.Context, *runconfig.RunConfiguration) (batch.Result, error) {
	s.calls++
	return s.result, s.err
}

func TestRun_DispatchThenRead(t *testing.T) {
	sum := &dispatch.Summary{Runs: []dispatch.Run{
		{ID: "FR-Pue", Result: &process.Result{}},
		{ID: "CH-Lae", Result: &process.Result{ExitCode: 1}},
	}}
	runner := &stubRunner{sum: sum}
	reader := &stubReader{result: batch.Result{"FR-Pue": {Site: "FR-Pue"}}}

	var seen *dispatch.Summary
	p := New(Config{Runner: runner, Reader: reader, OnDispatch: func(s *dispatch.Summary) { seen = s }})
	res, err := p.Run(context.Background(), &runconfig.RunConfiguration{})
	require.NoError(t, err)

	assert.Equal(t, []string{"FR-Pue"}, res.Sites())
	assert.Same(t, sum, seen)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 1, reader.calls)
}

func TestRun_FatalDispatchStopsBeforeRead(t *testing.T) {
	runner := &stubRunner{err: &dispatch.ExecutableError{Op: "locate", Path: "/sim/runpmodel"}}
	reader := &stubReader{}

	_, err := New(Config{Runner: runner, Reader: reader}).Run(context.Background(), &runconfig.RunConfiguration{})
	assert.ErrorIs(t, err, dispatch.ErrExecutableUnavailable)
	assert.Equal(t, 0, reader.calls)
}

func TestRun_ReadErrorPropagates(t *testing.T) {
	runner := &stubRunner{sum: &dispatch.Summary{}}
	reader := &stubReader{err: assemble.ErrNoVariablesRequested}

	_, err := New(Config{Runner: runner, Reader: reader}).Run(context.Background(), &runconfig.RunConfiguration{})
	assert.True(t, errors.Is(err, assemble.ErrNoVariablesRequested))
}

func TestRun_SkipRun(t *testing.T) {
	runner := &stubRunner{}
	reader := &stubReader{result: batch.Result{}}

	_, err := New(Config{Runner: runner, Reader: reader, SkipRun: true}).Run(context.Background(), &runconfig.RunConfiguration{})
	require.NoError(t, err)
	assert.Equal(t, 0, runner.calls)
	assert.Equal(t, 1, reader.calls)
}
