// Package dispatch launches the simulation executable once per site (or
// once for a named run) and records each invocation's outcome.
//
// Invocations run with their working directory set to the simulation
// directory; the calling process's working directory is never changed.
package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/3leaps/siterun/pkg/process"
	"github.com/3leaps/siterun/pkg/runconfig"
)

// Defaults.
const (
	DefaultWorkers = 1
	DefaultTimeout = 2 * time.Hour
)

// Config configures a Dispatcher.
type Config struct {
	Runner  process.Runner
	Builder Builder

	// Workers bounds concurrent invocations in ensemble mode. Default: 1.
	Workers int

	// Timeout bounds one invocation. Default: 2h.
	Timeout time.Duration

	// RateLimit caps launches per second. Zero means unlimited.
	RateLimit float64

	// LogDir receives {id}.run.stdout.log and {id}.run.stderr.log.
	LogDir string

	Logger *zap.Logger
}

// Run is the outcome of one invocation.
type Run struct {
	ID     string
	Result *process.Result
	Err    error
}

// Failed reports whether the invocation did not complete cleanly.
func (r Run) Failed() bool {
	return r.Err != nil || !r.Result.Success()
}

// Reason describes a failed invocation; it is empty for a clean one.
func (r Run) Reason() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.Result.TimedOut:
		return "timed out"
	case r.Result.ExitCode != 0:
		return fmt.Sprintf("exit code %d", r.Result.ExitCode)
	}
	return ""
}

// StderrTail returns at most the last n bytes of the run's stderr.
func (r Run) StderrTail(n int) string {
	if r.Result == nil {
		return ""
	}
	return tail(r.Result.Stderr, n)
}

// Summary lists every invocation of a dispatch in input order.
type Summary struct {
	Executable string
	Runs       []Run
	StartedAt  time.Time
	Duration   time.Duration
}

// Failed returns the invocations that did not complete cleanly.
func (s *Summary) Failed() []Run {
	var out []Run
	for _, r := range s.Runs {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

// Dispatcher runs simulation invocations.
type Dispatcher struct {
	cfg     Config
	limiter *rate.Limiter
}

// New creates a Dispatcher with defaults applied.
func New(cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Runner == nil {
		cfg.Runner = process.NewExecRunner(cfg.Logger)
	}
	d := &Dispatcher{cfg: cfg}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return d
}

// IDs returns the identifiers that Run will invoke, in order.
func IDs(rc *runconfig.RunConfiguration) []string {
	if rc.Ensemble {
		out := make([]string, len(rc.SiteNames))
		copy(out, rc.SiteNames)
		return out
	}
	return []string{rc.RunName}
}

// Run ensures the executable exists and invokes it for every site in
// ensemble mode, or once with the run name otherwise.
//
// Non-zero exits and timeouts are recorded in the Summary and logged; they
// do not fail the dispatch. Errors are returned for an unavailable
// executable, an unsupported implementation, or a cancelled ctx.
func (d *Dispatcher) Run(ctx context.Context, rc *runconfig.RunConfiguration) (*Summary, error) {
	exe, err := d.EnsureExecutable(ctx, rc)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(exe)

	ids := IDs(rc)
	sum := &Summary{
		Executable: exe,
		Runs:       make([]Run, len(ids)),
		StartedAt:  time.Now().UTC(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for i, id := range ids {
		if d.limiter != nil {
			if err := d.limiter.Wait(gctx); err != nil {
				break
			}
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			sum.Runs[i] = d.invoke(gctx, exe, dir, id)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sum.Duration = time.Since(sum.StartedAt)

	failed := sum.Failed()
	d.cfg.Logger.Info("Dispatch complete",
		zap.Int("runs", len(sum.Runs)),
		zap.Int("failed", len(failed)),
		zap.Duration("duration", sum.Duration),
	)
	return sum, nil
}

func (d *Dispatcher) invoke(ctx context.Context, exe, dir, id string) Run {
	logger := d.cfg.Logger.With(zap.String("site", id))
	spec := process.Spec{
		Path:    exe,
		Dir:     dir,
		Stdin:   id + "\n",
		Timeout: d.cfg.Timeout,
	}
	if d.cfg.LogDir != "" {
		spec.StdoutLog = filepath.Join(d.cfg.LogDir, id+".run.stdout.log")
		spec.StderrLog = filepath.Join(d.cfg.LogDir, id+".run.stderr.log")
	}

	logger.Info("Running simulation")
	res, err := d.cfg.Runner.Run(ctx, spec)
	run := Run{ID: id, Result: res, Err: err}

	switch {
	case err != nil:
		if ctx.Err() == nil {
			logger.Warn("Simulation could not start", zap.Error(err))
		}
	case res.TimedOut:
		logger.Warn("Simulation timed out",
			zap.Duration("timeout", d.cfg.Timeout),
		)
	case res.ExitCode != 0:
		logger.Warn("Simulation exited non-zero",
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", tail(res.Stderr, 512)),
		)
	default:
		logger.Info("Simulation finished", zap.Duration("duration", res.Duration))
	}
	return run
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("...%s", s[len(s)-n:])
}
