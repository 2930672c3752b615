// Package pipeline runs a batch end to end: dispatch the simulation, then
// read back and assemble its outputs.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/siterun/pkg/batch"
	"github.com/3leaps/siterun/pkg/dispatch"
	"github.com/3leaps/siterun/pkg/runconfig"
)

// Runner dispatches simulation invocations.
type Runner interface {
	Run(ctx context.Context, rc *runconfig.RunConfiguration) (*dispatch.Summary, error)
}

// Reader reads back a batch.
type Reader interface {
	ReadAll(ctx context.Context, rc *runconfig.RunConfiguration) (batch.Result, error)
}

// Config configures a Pipeline.
type Config struct {
	Runner Runner
	Reader Reader

	// SkipRun reads existing outputs without dispatching.
	SkipRun bool

	// OnDispatch, when set, receives the dispatch summary before read-back.
	OnDispatch func(*dispatch.Summary)

	Logger *zap.Logger
}

// Pipeline couples a dispatcher and a reader.
type Pipeline struct {
	cfg Config
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg}
}

// Run dispatches rc and returns the assembled batch.
//
// The dispatch summary is only logged and passed to OnDispatch; per-site
// run failures show up as sites missing from the result.
func (p *Pipeline) Run(ctx context.Context, rc *runconfig.RunConfiguration) (batch.Result, error) {
	if !p.cfg.SkipRun {
		sum, err := p.cfg.Runner.Run(ctx, rc)
		if err != nil {
			return nil, fmt.Errorf("dispatch: %w", err)
		}
		if n := len(sum.Failed()); n > 0 {
			p.cfg.Logger.Warn("Some simulation runs failed, continuing with read-back",
				zap.Int("failed", n),
				zap.Int("runs", len(sum.Runs)),
			)
		}
		if p.cfg.OnDispatch != nil {
			p.cfg.OnDispatch(sum)
		}
	}

	result, err := p.cfg.Reader.ReadAll(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("read outputs: %w", err)
	}
	return result, nil
}
