package consolidate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/siterun/pkg/process"
)

// DefaultCDOCommand is the merge utility looked up on PATH.
const DefaultCDOCommand = "cdo"

// CDOMerger merges with "cdo -O mergetime".
type CDOMerger struct {
	Command string
	Timeout time.Duration
	Runner  process.Runner
}

// NewCDOMerger returns a merger using runner.
func NewCDOMerger(runner process.Runner) *CDOMerger {
	return &CDOMerger{Command: DefaultCDOCommand, Runner: runner}
}

// Merge implements Merger.
func (m *CDOMerger) Merge(ctx context.Context, inputs []string, target string, logs LogPaths) error {
	cmd := m.Command
	if cmd == "" {
		cmd = DefaultCDOCommand
	}
	args := append([]string{"-O", "mergetime"}, inputs...)
	args = append(args, target)

	res, err := m.Runner.Run(ctx, process.Spec{
		Path:      cmd,
		Args:      args,
		Timeout:   m.Timeout,
		StdoutLog: logs.Stdout,
		StderrLog: logs.Stderr,
	})
	if err != nil {
		return err
	}
	if res.TimedOut {
		return fmt.Errorf("%s timed out after %s", cmd, res.Duration)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited %d: %s", cmd, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}
