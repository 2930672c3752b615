package cmd

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"

	"github.com/3leaps/siterun/internal/config"
	"github.com/3leaps/siterun/internal/observability"
	"github.com/3leaps/siterun/pkg/assemble"
	"github.com/3leaps/siterun/pkg/batch"
	"github.com/3leaps/siterun/pkg/consolidate"
	"github.com/3leaps/siterun/pkg/dispatch"
	"github.com/3leaps/siterun/pkg/process"
	"github.com/3leaps/siterun/pkg/runconfig"
	"github.com/3leaps/siterun/pkg/source/ncdump"
)

// loadRunConfig loads the run configuration named by --job.
func loadRunConfig(path string) (*runconfig.RunConfiguration, error) {
	rc, err := runconfig.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, exitError(foundry.ExitFileNotFound, "Run config not found", err)
		}
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid run config", err)
	}
	return rc, nil
}

func newBatchID() string {
	return uuid.NewString()
}

// batchLogDir is where a batch's run and merge logs go.
func batchLogDir(cfg *config.Config, batchID string) string {
	return filepath.Join(cfg.Run.LogDir, batchID)
}

func newRunner() *process.ExecRunner {
	return process.NewExecRunner(observability.CLILogger)
}

func newConsolidator(cfg *config.Config, runner process.Runner, logDir string) *consolidate.Consolidator {
	merger := consolidate.NewCDOMerger(runner)
	merger.Command = cfg.Consolidate.Command
	merger.Timeout = cfg.Consolidate.Timeout
	return consolidate.New(consolidate.Config{
		Merger:       merger,
		LogDir:       logDir,
		MaxAttempts:  cfg.Consolidate.MaxAttempts,
		RetryBackoff: cfg.Consolidate.RetryBackoff,
		Logger:       observability.CLILogger,
	})
}

func newAssembler(cfg *config.Config, rc *runconfig.RunConfiguration, runner process.Runner, probe assemble.ProbePolicy) *assemble.Assembler {
	src := ncdump.New(ncdump.Config{
		Root:    rc.OutputPath,
		Command: cfg.Source.Command,
		Timeout: cfg.Source.Timeout,
		Runner:  runner,
		Logger:  observability.CLILogger,
	})
	return assemble.New(assemble.Config{
		Source: src,
		Probe:  probe,
		Logger: observability.CLILogger,
	})
}

func newReader(cfg *config.Config, rc *runconfig.RunConfiguration, runner process.Runner, logDir string, probe assemble.ProbePolicy, observer batch.Observer) *batch.Reader {
	return batch.New(batch.Config{
		Consolidator: newConsolidator(cfg, runner, logDir),
		Assembler:    newAssembler(cfg, rc, runner, probe),
		Workers:      cfg.Run.Workers,
		Observer:     observer,
		Logger:       observability.CLILogger,
	})
}

func newDispatcher(cfg *config.Config, runner process.Runner, logDir string) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Config{
		Runner:    runner,
		Builder:   &dispatch.MakeBuilder{Runner: runner, LogDir: logDir},
		Workers:   cfg.Run.Workers,
		Timeout:   cfg.Run.Timeout,
		RateLimit: cfg.Run.RateLimit,
		LogDir:    logDir,
		Logger:    observability.CLILogger,
	})
}

// resolveProbe picks --probe over the configured policy.
func resolveProbe(cfg *config.Config, flag string) (assemble.ProbePolicy, error) {
	if flag == "" {
		flag = cfg.Run.Probe
	}
	p, err := assemble.ParseProbePolicy(flag)
	if err != nil {
		return 0, exitError(foundry.ExitInvalidArgument, "Invalid --probe value", err)
	}
	return p, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// openOutput returns stdout for "" or "-", else creates path.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, exitError(foundry.ExitFileWriteError, "Failed to create output directory", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	return f, nil
}
